package tmrequest

import (
	"context"
	"errors"
	"sync"
	"testing"
)

const (
	testSystemRole  = "tm-system"
	testUsersetRole = "tm-userset"
	testUserID      = "42"
)

var errInjected = errors.New("injected failure")

// newTestStore returns a MemoryStore with two solution usersets, one shallow
// userset sharing a solution id, an administrator and a user on "acme".
func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()

	store := NewMemoryStore()
	store.SetSettings(Settings{
		SystemRoleID:        testSystemRole,
		UsersetRoleID:       testUsersetRole,
		AdminUsername:       "admin",
		NotificationSubject: "New training manager",
		NotificationBody:    "<p>%%firstname%% %%lastname%% (%%solutionid%%) is now a training manager.</p>",
	})
	store.AddUserset(Userset{ID: "1", Name: "Acme root", Depth: 1, SolutionID: "acme", ContextID: "ctx-1"})
	store.AddUserset(Userset{ID: "10", Name: "Acme", ParentID: "1", Depth: 2, SolutionID: "acme", ContextID: "ctx-10"})
	store.AddUserset(Userset{ID: "11", Name: "Globex", ParentID: "1", Depth: 2, SolutionID: "globex", ContextID: "ctx-11"})
	store.AddUser(User{ID: "1", Username: "admin", Email: "admin@example.com", FirstName: "Ada", LastName: "Admin"})
	store.AddUser(User{
		ID:         testUserID,
		Username:   "tm",
		Email:      "tm@example.com",
		FirstName:  "Terry",
		LastName:   "Manager",
		Attributes: map[string]string{DefaultSolutionField: "acme"},
	})
	return store
}

// faultyRoleStore wraps a RoleStore and fails selected calls.
type faultyRoleStore struct {
	RoleStore

	mu              sync.Mutex
	failAssignRole  string // Assign fails for this role id
	failUnassignCtx string // Unassign fails for this context id
	failHas         error
	failList        error
	listCalls       int
}

func (f *faultyRoleStore) Assign(ctx context.Context, roleID, userID string, scope Scope) error {
	if roleID == f.failAssignRole {
		return errInjected
	}
	return f.RoleStore.Assign(ctx, roleID, userID, scope)
}

func (f *faultyRoleStore) Unassign(ctx context.Context, roleID, userID, contextID string) error {
	if contextID == f.failUnassignCtx {
		return errInjected
	}
	return f.RoleStore.Unassign(ctx, roleID, userID, contextID)
}

func (f *faultyRoleStore) HasAssignment(ctx context.Context, roleID, userID, contextID string) (bool, error) {
	if f.failHas != nil {
		return false, f.failHas
	}
	return f.RoleStore.HasAssignment(ctx, roleID, userID, contextID)
}

func (f *faultyRoleStore) Assignments(ctx context.Context, roleID, userID string, level ContextLevel) ([]RoleAssignment, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	return f.RoleStore.Assignments(ctx, roleID, userID, level)
}

// faultyDirectory fails attribute lookups.
type faultyDirectory struct {
	Directory
}

func (faultyDirectory) Attribute(context.Context, string, string) (string, bool, error) {
	return "", false, errInjected
}

type failingSettings struct{}

func (failingSettings) Settings(context.Context) (Settings, error) {
	return Settings{}, errInjected
}

// recordingSender keeps every message it is asked to send.
type recordingSender struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// memoryAuditLogger collects audit entries.
type memoryAuditLogger struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (l *memoryAuditLogger) LogAudit(_ context.Context, entry *AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *entry)
	return nil
}

// stubLocker refuses every lock when busy is set.
type stubLocker struct {
	busy     bool
	locked   int
	unlocked int
}

func (l *stubLocker) Lock(_ context.Context, userID string) (func(), error) {
	if l.busy {
		return nil, NewError(ErrLocked, "busy").WithUser(userID)
	}
	l.locked++
	return func() { l.unlocked++ }, nil
}
