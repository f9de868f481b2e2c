package tmrequest

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SolutionUsersetDepth is the hierarchy depth of usersets that carry a solution id.
const SolutionUsersetDepth = 2

// SystemContextID identifies the single system-wide context.
const SystemContextID = "system"

// ContextLevel is the kind of context a role is assigned in.
type ContextLevel string

const (
	LevelSystem  ContextLevel = "system"
	LevelUserset ContextLevel = "userset"
)

// User is a directory entry.
// Attributes holds the user's custom profile fields keyed by short name.
type User struct {
	ID         string
	Username   string
	Email      string
	FirstName  string
	LastName   string
	Attributes map[string]string
}

// UserRecord is the bun model for a directory user.
type UserRecord struct {
	bun.BaseModel `bun:"table:tm_users,alias:u"`

	ID        string `bun:"id,pk"`
	Username  string `bun:"username,notnull,unique"`
	Email     string `bun:"email"`
	FirstName string `bun:"first_name"`
	LastName  string `bun:"last_name"`
}

// UserAttribute is one custom profile field value.
type UserAttribute struct {
	bun.BaseModel `bun:"table:tm_user_attributes,alias:ua"`

	UserID string `bun:"user_id,pk"`
	Field  string `bun:"field,pk"`
	Value  string `bun:"value"`
}

// Userset is a node of the userset hierarchy.
// ContextID is the role context that belongs to the userset.
type Userset struct {
	bun.BaseModel `bun:"table:tm_usersets,alias:us"`

	ID         string `bun:"id,pk"`
	Name       string `bun:"name"`
	ParentID   string `bun:"parent_id"`
	Depth      int    `bun:"depth,notnull"`
	SolutionID string `bun:"solution_id"`
	ContextID  string `bun:"context_id,notnull,unique"`
}

// Scope returns the userset-level scope for this userset.
func (u Userset) Scope() Scope {
	return Scope{ContextID: u.ContextID, Level: LevelUserset, InstanceID: u.ID}
}

// Scope is the context a role assignment lives in.
type Scope struct {
	ContextID  string
	Level      ContextLevel
	InstanceID string // userset id for userset-level scopes
}

// SystemScope returns the system-wide scope.
func SystemScope() Scope {
	return Scope{ContextID: SystemContextID, Level: LevelSystem}
}

// String returns a string representation of the scope.
func (s Scope) String() string {
	if s.InstanceID == "" {
		return string(s.Level) + ":" + s.ContextID
	}
	return string(s.Level) + ":" + s.InstanceID + "@" + s.ContextID
}

// RoleAssignment binds a role to a user in a context.
type RoleAssignment struct {
	bun.BaseModel `bun:"table:tm_role_assignments,alias:ra"`

	RoleID       string       `bun:"role_id,pk"`
	UserID       string       `bun:"user_id,pk"`
	ContextID    string       `bun:"context_id,pk"`
	ContextLevel ContextLevel `bun:"context_level,notnull"`
	InstanceID   string       `bun:"instance_id"`
	CreatedAt    time.Time    `bun:"created_at,notnull"`
}

// Scope returns the scope the assignment lives in.
func (a RoleAssignment) Scope() Scope {
	return Scope{ContextID: a.ContextID, Level: a.ContextLevel, InstanceID: a.InstanceID}
}

// SettingRecord is one persisted setting.
type SettingRecord struct {
	bun.BaseModel `bun:"table:tm_settings,alias:s"`

	Name  string `bun:"name,pk"`
	Value string `bun:"value"`
}

// AuditAction represents the type of action in the audit log.
type AuditAction string

const (
	AuditActionAssigned AuditAction = "assigned"
	AuditActionRevoked  AuditAction = "revoked"
)

// AuditLog records every role assignment change made by the reconciler.
type AuditLog struct {
	bun.BaseModel `bun:"table:tm_audit_log,alias:al"`

	ID        string    `bun:"id,pk"`
	Timestamp time.Time `bun:"timestamp,notnull"`

	ActorID string `bun:"actor_id"`
	Action  string `bun:"action,notnull"`

	TargetUserID string `bun:"target_user_id,notnull"`
	RoleID       string `bun:"role_id,notnull"`
	ContextID    string `bun:"context_id,notnull"`
	ContextLevel string `bun:"context_level,notnull"`
	InstanceID   string `bun:"instance_id"`

	// Operation that caused the change, e.g. "request" or "reconcile".
	Operation string `bun:"operation"`

	IPAddress string `bun:"ip_address"`
	UserAgent string `bun:"user_agent"`
	RequestID string `bun:"request_id"`
}

// AuditEntry is used to create new audit log entries.
type AuditEntry struct {
	ActorID      string
	Action       AuditAction
	TargetUserID string
	RoleID       string
	Scope        Scope
	Operation    string
	IPAddress    string
	UserAgent    string
	RequestID    string
}

// ToModel converts an AuditEntry to an AuditLog model.
func (e *AuditEntry) ToModel() *AuditLog {
	return &AuditLog{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		ActorID:      e.ActorID,
		Action:       string(e.Action),
		TargetUserID: e.TargetUserID,
		RoleID:       e.RoleID,
		ContextID:    e.Scope.ContextID,
		ContextLevel: string(e.Scope.Level),
		InstanceID:   e.Scope.InstanceID,
		Operation:    e.Operation,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		RequestID:    e.RequestID,
	}
}

var solutionIDDisallowed = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// CleanSolutionID trims raw and strips every character outside [A-Za-z0-9_-].
func CleanSolutionID(raw string) string {
	return solutionIDDisallowed.ReplaceAllString(strings.TrimSpace(raw), "")
}
