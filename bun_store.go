package tmrequest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// BunStore implements Directory, RoleStore, SettingsProvider and AuditLogger
// on a bun database. Settings are read from tm_settings on every call.
type BunStore struct {
	db bun.IDB
}

// NewBunStore creates a BunStore on db. db may be a *bun.DB or a bun.Tx.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	store := tmrequest.NewBunStore(db.Bun())
//	_, err := db.Migrate(ctx, store.Migrations())
func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db}
}

// ============================================================================
// DIRECTORY
// ============================================================================

// User implements Directory.
func (s *BunStore) User(ctx context.Context, userID string) (*User, error) {
	var rec UserRecord
	err := s.db.NewSelect().Model(&rec).Where("id = ?", userID).Limit(1).Scan(ctx)
	return s.loadUser(ctx, &rec, err, "GetUser")
}

// UserByUsername implements Directory.
func (s *BunStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	var rec UserRecord
	err := s.db.NewSelect().Model(&rec).Where("username = ?", username).Limit(1).Scan(ctx)
	return s.loadUser(ctx, &rec, err, "GetUserByUsername")
}

func (s *BunStore) loadUser(ctx context.Context, rec *UserRecord, err error, op string) (*User, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err := dbkit.WithErr1(err, op).Err(); err != nil {
		return nil, err
	}

	var attrs []UserAttribute
	err = s.db.NewSelect().Model(&attrs).Where("user_id = ?", rec.ID).Scan(ctx)
	if err := dbkit.WithErr1(err, "GetUserAttributes").Err(); err != nil {
		return nil, err
	}

	u := &User{
		ID:         rec.ID,
		Username:   rec.Username,
		Email:      rec.Email,
		FirstName:  rec.FirstName,
		LastName:   rec.LastName,
		Attributes: make(map[string]string, len(attrs)),
	}
	for _, a := range attrs {
		u.Attributes[a.Field] = a.Value
	}
	return u, nil
}

// Attribute implements Directory.
func (s *BunStore) Attribute(ctx context.Context, userID, field string) (string, bool, error) {
	var attr UserAttribute
	err := s.db.NewSelect().Model(&attr).
		Where("user_id = ?", userID).
		Where("field = ?", field).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err := dbkit.WithErr1(err, "GetUserAttribute").Err(); err != nil {
		return "", false, err
	}
	return attr.Value, true, nil
}

// UsersetsBySolutionID implements Directory.
func (s *BunStore) UsersetsBySolutionID(ctx context.Context, solutionID string) ([]Userset, error) {
	var sets []Userset
	err := s.db.NewSelect().Model(&sets).
		Where("solution_id = ?", solutionID).
		Where("depth = ?", SolutionUsersetDepth).
		Order("id ASC").
		Scan(ctx)
	if err := dbkit.WithErr1(err, "GetSolutionUsersets").Err(); err != nil {
		return nil, err
	}
	return sets, nil
}

// SaveUser inserts or updates a user and replaces its attributes.
func (s *BunStore) SaveUser(ctx context.Context, u User) error {
	rec := &UserRecord{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
	result, err := s.db.NewInsert().Model(rec).
		On("CONFLICT (id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("email = EXCLUDED.email").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Exec(ctx)
	if err := dbkit.WithErr(result, err, "SaveUser").Err(); err != nil {
		return err
	}

	result, err = s.db.NewDelete().Model((*UserAttribute)(nil)).Where("user_id = ?", u.ID).Exec(ctx)
	if err := dbkit.WithErr(result, err, "DeleteUserAttributes").Err(); err != nil {
		return err
	}
	for field, value := range u.Attributes {
		if err := s.SetAttribute(ctx, u.ID, field, value); err != nil {
			return err
		}
	}
	return nil
}

// SetAttribute sets one profile field of a user.
func (s *BunStore) SetAttribute(ctx context.Context, userID, field, value string) error {
	attr := &UserAttribute{UserID: userID, Field: field, Value: value}
	result, err := s.db.NewInsert().Model(attr).
		On("CONFLICT (user_id, field) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return dbkit.WithErr(result, err, "SetUserAttribute").Err()
}

// SaveUserset inserts or updates a userset.
func (s *BunStore) SaveUserset(ctx context.Context, u Userset) error {
	result, err := s.db.NewInsert().Model(&u).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("parent_id = EXCLUDED.parent_id").
		Set("depth = EXCLUDED.depth").
		Set("solution_id = EXCLUDED.solution_id").
		Set("context_id = EXCLUDED.context_id").
		Exec(ctx)
	return dbkit.WithErr(result, err, "SaveUserset").Err()
}

// ============================================================================
// ROLE STORE
// ============================================================================

// Assign implements RoleStore. Assigning an existing assignment is a no-op.
func (s *BunStore) Assign(ctx context.Context, roleID, userID string, scope Scope) error {
	assignment := &RoleAssignment{
		RoleID:       roleID,
		UserID:       userID,
		ContextID:    scope.ContextID,
		ContextLevel: scope.Level,
		InstanceID:   scope.InstanceID,
		CreatedAt:    time.Now().UTC(),
	}
	result, err := s.db.NewInsert().Model(assignment).
		On("CONFLICT (role_id, user_id, context_id) DO NOTHING").
		Exec(ctx)
	return dbkit.WithErr(result, err, "CreateRoleAssignment").Err()
}

// Unassign implements RoleStore.
func (s *BunStore) Unassign(ctx context.Context, roleID, userID, contextID string) error {
	result, err := s.db.NewDelete().Model((*RoleAssignment)(nil)).
		Where("role_id = ?", roleID).
		Where("user_id = ?", userID).
		Where("context_id = ?", contextID).
		Exec(ctx)
	return dbkit.WithErr(result, err, "DeleteRoleAssignment").Err()
}

// HasAssignment implements RoleStore.
func (s *BunStore) HasAssignment(ctx context.Context, roleID, userID, contextID string) (bool, error) {
	exists, err := s.db.NewSelect().Model((*RoleAssignment)(nil)).
		Where("role_id = ?", roleID).
		Where("user_id = ?", userID).
		Where("context_id = ?", contextID).
		Exists(ctx)
	if err := dbkit.WithErr1(err, "CheckRoleAssignment").Err(); err != nil {
		return false, err
	}
	return exists, nil
}

// Assignments implements RoleStore.
func (s *BunStore) Assignments(ctx context.Context, roleID, userID string, level ContextLevel) ([]RoleAssignment, error) {
	var assignments []RoleAssignment
	err := s.db.NewSelect().Model(&assignments).
		Where("role_id = ?", roleID).
		Where("user_id = ?", userID).
		Where("context_level = ?", level).
		Order("created_at ASC", "context_id ASC").
		Scan(ctx)
	if err := dbkit.WithErr1(err, "GetRoleAssignments").Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// ============================================================================
// SETTINGS
// ============================================================================

// Settings implements SettingsProvider.
func (s *BunStore) Settings(ctx context.Context) (Settings, error) {
	var records []SettingRecord
	err := s.db.NewSelect().Model(&records).Scan(ctx)
	if err := dbkit.WithErr1(err, "GetSettings").Err(); err != nil {
		return Settings{}, err
	}
	values := make(map[string]string, len(records))
	for _, r := range records {
		values[r.Name] = r.Value
	}
	return settingsFromMap(values).WithDefaults(), nil
}

// SetSetting stores one named setting, e.g. SettingSystemRole.
func (s *BunStore) SetSetting(ctx context.Context, name, value string) error {
	result, err := s.db.NewInsert().Model(&SettingRecord{Name: name, Value: value}).
		On("CONFLICT (name) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return dbkit.WithErr(result, err, "SetSetting").Err()
}

// SaveSettings stores every field of settings.
func (s *BunStore) SaveSettings(ctx context.Context, settings Settings) error {
	values := map[string]string{
		SettingSystemRole:        settings.SystemRoleID,
		SettingUsersetRole:       settings.UsersetRoleID,
		SettingSolutionField:     settings.SolutionField,
		SettingAdminUser:         settings.AdminUsername,
		SettingSubject:           settings.NotificationSubject,
		SettingBody:              settings.NotificationBody,
		SettingMissingSolutionID: settings.MissingSolutionID,
	}
	for name, value := range values {
		if err := s.SetSetting(ctx, name, value); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// AUDIT LOG
// ============================================================================

// LogAudit implements AuditLogger.
func (s *BunStore) LogAudit(ctx context.Context, entry *AuditEntry) error {
	result, err := s.db.NewInsert().Model(entry.ToModel()).Exec(ctx)
	return dbkit.WithErr(result, err, "CreateAuditLog").Err()
}

// AuditLog retrieves audit log entries with optional filters, newest first.
func (s *BunStore) AuditLog(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error) {
	var logs []AuditLog
	q := s.db.NewSelect().Model(&logs)
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.TargetUserID != "" {
		q = q.Where("target_user_id = ?", filter.TargetUserID)
	}
	if filter.RoleID != "" {
		q = q.Where("role_id = ?", filter.RoleID)
	}
	if filter.ContextID != "" {
		q = q.Where("context_id = ?", filter.ContextID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}

	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	q = q.Limit(limit)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	q = q.Order("timestamp DESC")
	if err := dbkit.WithErr1(q.Scan(ctx), "GetAuditLog").Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
