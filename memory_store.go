package tmrequest

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore is an in-memory Directory, RoleStore and SettingsProvider.
// It keeps duplicate assignments if Assign is called twice for the same
// (role, user, context); Unassign removes them all.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]User
	usersets    map[string]Userset
	assignments []RoleAssignment
	settings    Settings
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		usersets: make(map[string]Userset),
	}
}

// AddUser adds or replaces a user.
func (m *MemoryStore) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Attributes = maps.Clone(u.Attributes)
	if u.Attributes == nil {
		u.Attributes = make(map[string]string)
	}
	m.users[u.ID] = u
}

// SetAttribute sets one profile field. It is a no-op for unknown users.
func (m *MemoryStore) SetAttribute(userID, field, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.Attributes[field] = value
	}
}

// AddUserset adds or replaces a userset.
func (m *MemoryStore) AddUserset(u Userset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usersets[u.ID] = u
}

// SetSettings replaces the settings.
func (m *MemoryStore) SetSettings(s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
}

// Settings implements SettingsProvider.
func (m *MemoryStore) Settings(context.Context) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.WithDefaults(), nil
}

// User implements Directory.
func (m *MemoryStore) User(_ context.Context, userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.Attributes = maps.Clone(u.Attributes)
	return &u, nil
}

// UserByUsername implements Directory.
func (m *MemoryStore) UserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			u.Attributes = maps.Clone(u.Attributes)
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

// Attribute implements Directory.
func (m *MemoryStore) Attribute(_ context.Context, userID, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return "", false, nil
	}
	v, ok := u.Attributes[field]
	return v, ok, nil
}

// UsersetsBySolutionID implements Directory.
func (m *MemoryStore) UsersetsBySolutionID(_ context.Context, solutionID string) ([]Userset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sets []Userset
	for _, u := range m.usersets {
		if u.Depth == SolutionUsersetDepth && u.SolutionID == solutionID {
			sets = append(sets, u)
		}
	}
	return sets, nil
}

// Assign implements RoleStore.
func (m *MemoryStore) Assign(_ context.Context, roleID, userID string, scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, RoleAssignment{
		RoleID:       roleID,
		UserID:       userID,
		ContextID:    scope.ContextID,
		ContextLevel: scope.Level,
		InstanceID:   scope.InstanceID,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

// Unassign implements RoleStore.
func (m *MemoryStore) Unassign(_ context.Context, roleID, userID, contextID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.assignments[:0]
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.UserID == userID && a.ContextID == contextID {
			continue
		}
		kept = append(kept, a)
	}
	m.assignments = kept
	return nil
}

// HasAssignment implements RoleStore.
func (m *MemoryStore) HasAssignment(_ context.Context, roleID, userID, contextID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.UserID == userID && a.ContextID == contextID {
			return true, nil
		}
	}
	return false, nil
}

// Assignments implements RoleStore.
func (m *MemoryStore) Assignments(_ context.Context, roleID, userID string, level ContextLevel) ([]RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RoleAssignment
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.UserID == userID && a.ContextLevel == level {
			out = append(out, a)
		}
	}
	return out, nil
}
