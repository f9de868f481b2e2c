package tmrequest

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// Migrations returns the Postgres migrations for the BunStore tables.
// Use db.Migrate(ctx, store.Migrations()) to run them.
func (s *BunStore) Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "tmrequest-001",
			Description: "Create tm_users table",
			SQL: `
                CREATE TABLE IF NOT EXISTS tm_users (
                    id TEXT PRIMARY KEY,
                    username TEXT NOT NULL UNIQUE,
                    email TEXT,
                    first_name TEXT,
                    last_name TEXT
                )`,
		},
		{
			ID:          "tmrequest-002",
			Description: "Create tm_user_attributes table",
			SQL: `
                CREATE TABLE IF NOT EXISTS tm_user_attributes (
                    user_id TEXT NOT NULL,
                    field TEXT NOT NULL,
                    value TEXT,
                    PRIMARY KEY (user_id, field)
                )`,
		},
		{
			ID:          "tmrequest-003",
			Description: "Create tm_usersets table",
			SQL: `
                CREATE TABLE IF NOT EXISTS tm_usersets (
                    id TEXT PRIMARY KEY,
                    name TEXT,
                    parent_id TEXT,
                    depth INTEGER NOT NULL,
                    solution_id TEXT,
                    context_id TEXT NOT NULL UNIQUE
                )`,
		},
		{
			ID:          "tmrequest-004",
			Description: "Index tm_usersets by solution id",
			SQL:         `CREATE INDEX IF NOT EXISTS tm_usersets_solution_idx ON tm_usersets (solution_id, depth)`,
		},
		{
			ID:          "tmrequest-005",
			Description: "Create tm_role_assignments table",
			SQL: `
                CREATE TABLE IF NOT EXISTS tm_role_assignments (
                    role_id TEXT NOT NULL,
                    user_id TEXT NOT NULL,
                    context_id TEXT NOT NULL,
                    context_level TEXT NOT NULL,
                    instance_id TEXT,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    PRIMARY KEY (role_id, user_id, context_id)
                )`,
		},
		{
			ID:          "tmrequest-006",
			Description: "Index tm_role_assignments by user",
			SQL:         `CREATE INDEX IF NOT EXISTS tm_role_assignments_user_idx ON tm_role_assignments (user_id, role_id, context_level)`,
		},
		{
			ID:          "tmrequest-007",
			Description: "Create tm_settings table",
			SQL: `
                CREATE TABLE IF NOT EXISTS tm_settings (
                    name TEXT PRIMARY KEY,
                    value TEXT
                )`,
		},
		{
			ID:          "tmrequest-008",
			Description: "Create tm_audit_log table",
			SQL: `
                CREATE TABLE IF NOT EXISTS tm_audit_log (
                    id TEXT PRIMARY KEY,
                    timestamp TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    actor_id TEXT,
                    action TEXT NOT NULL,
                    target_user_id TEXT NOT NULL,
                    role_id TEXT NOT NULL,
                    context_id TEXT NOT NULL,
                    context_level TEXT NOT NULL,
                    instance_id TEXT,
                    operation TEXT,
                    ip_address TEXT,
                    user_agent TEXT,
                    request_id TEXT
                )`,
		},
		{
			ID:          "tmrequest-009",
			Description: "Index tm_audit_log by target user",
			SQL:         `CREATE INDEX IF NOT EXISTS tm_audit_log_target_idx ON tm_audit_log (target_user_id, timestamp)`,
		},
	}
}

// CreateSchema creates the BunStore tables through bun for the connected
// dialect. It is intended for tests and embedded databases; use Migrations
// for Postgres deployments.
func (s *BunStore) CreateSchema(ctx context.Context) error {
	models := []any{
		(*UserRecord)(nil),
		(*UserAttribute)(nil),
		(*Userset)(nil),
		(*RoleAssignment)(nil),
		(*SettingRecord)(nil),
		(*AuditLog)(nil),
	}
	for _, model := range models {
		_, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		if err := dbkit.WithErr1(err, "CreateTable").Err(); err != nil {
			return err
		}
	}
	return nil
}
