package tmrequest

import (
	"context"
)

// Directory defines read access to users and the userset hierarchy.
type Directory interface {
	// User returns the user with the given id, or ErrUserNotFound.
	User(ctx context.Context, userID string) (*User, error)
	// UserByUsername returns the user with the given username, or ErrUserNotFound.
	UserByUsername(ctx context.Context, username string) (*User, error)
	// Attribute returns one custom profile field. ok is false when the user or
	// the field does not exist.
	Attribute(ctx context.Context, userID, field string) (value string, ok bool, err error)
	// UsersetsBySolutionID returns the depth-2 usersets whose solution id equals solutionID.
	UsersetsBySolutionID(ctx context.Context, solutionID string) ([]Userset, error)
}

// RoleStore defines role assignment storage.
type RoleStore interface {
	Assign(ctx context.Context, roleID, userID string, scope Scope) error
	// Unassign removes every assignment of roleID to userID in contextID.
	Unassign(ctx context.Context, roleID, userID, contextID string) error
	HasAssignment(ctx context.Context, roleID, userID, contextID string) (bool, error)
	// Assignments lists the user's assignments of roleID at the given level.
	Assignments(ctx context.Context, roleID, userID string, level ContextLevel) ([]RoleAssignment, error)
}

// SettingsProvider returns the current configuration.
type SettingsProvider interface {
	Settings(ctx context.Context) (Settings, error)
}

// AuditLogger defines the audit logging interface
type AuditLogger interface {
	LogAudit(ctx context.Context, entry *AuditEntry) error
}

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Locker serializes operations on a single user.
// The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}
