package tmrequest

import (
	"context"
	"log/slog"
	"slices"
	"strings"
)

// Evaluator answers read-only questions about a user's training manager state.
// Every call reads settings once and evaluates against that snapshot.
type Evaluator struct {
	directory Directory
	roles     RoleStore
	settings  SettingsProvider
	logger    *slog.Logger
	metrics   *Metrics
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(directory Directory, roles RoleStore, settings SettingsProvider, opts ...Option) *Evaluator {
	return newEvaluator(directory, roles, settings, newOptions(opts))
}

func newEvaluator(directory Directory, roles RoleStore, settings SettingsProvider, o *options) *Evaluator {
	return &Evaluator{
		directory: directory,
		roles:     roles,
		settings:  settings,
		logger:    o.logger,
		metrics:   o.metrics,
	}
}

// ============================================================================
// ROLE CHECKS
// ============================================================================

// HasSystemRole reports whether the user holds the configured system role in
// the system context. An unconfigured system role yields false.
func (e *Evaluator) HasSystemRole(ctx context.Context, userID string) (bool, error) {
	s, err := e.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return e.hasSystemRole(ctx, s, userID)
}

// HasUsersetRole reports whether the user holds the configured userset role
// on the userset matching their solution id.
func (e *Evaluator) HasUsersetRole(ctx context.Context, userID string) (bool, error) {
	s, err := e.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return e.hasUsersetRole(ctx, s, userID)
}

// HasRole reports whether the user holds both assignments.
//
// Example:
//
//	ok, err := evaluator.HasRole(ctx, userID)
//	if err != nil {
//	    return err
//	}
//	if !ok {
//	    return tmrequest.ErrNotTrainingManager
//	}
func (e *Evaluator) HasRole(ctx context.Context, userID string) (bool, error) {
	s, err := e.snapshot(ctx)
	if err != nil {
		return false, err
	}
	ok, err := e.hasSystemRole(ctx, s, userID)
	if err != nil || !ok {
		return false, err
	}
	return e.hasUsersetRole(ctx, s, userID)
}

// ============================================================================
// CLASSIFICATION
// ============================================================================

// CanAssign classifies whether the user may request the training manager role.
// Checks run in order and the first failing one wins.
func (e *Evaluator) CanAssign(ctx context.Context, userID string) (Classification, error) {
	s, err := e.snapshot(ctx)
	if err != nil {
		return Invalid, err
	}
	c, err := e.canAssign(ctx, s, userID)
	if err != nil {
		return Invalid, err
	}
	e.observe(ctx, "can_assign", userID, c)
	return c, nil
}

// Validate classifies whether the user's current assignments are consistent.
func (e *Evaluator) Validate(ctx context.Context, userID string) (Classification, error) {
	s, err := e.snapshot(ctx)
	if err != nil {
		return Invalid, err
	}
	c, _, err := e.validate(ctx, s, userID)
	if err != nil {
		return Invalid, err
	}
	e.observe(ctx, "validate", userID, c)
	return c, nil
}

// SolutionUsersets returns the depth-2 usersets matching solutionID, ordered
// by userset id. The id is trimmed and stripped to [A-Za-z0-9_-] first; an id
// that cleans to nothing matches no userset.
func (e *Evaluator) SolutionUsersets(ctx context.Context, solutionID string) ([]Userset, error) {
	return e.solutionUsersets(ctx, solutionID)
}

// SolutionUsersetRoles returns the user's assignments of the configured
// userset role at userset level.
func (e *Evaluator) SolutionUsersetRoles(ctx context.Context, userID string) ([]RoleAssignment, error) {
	s, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return e.solutionUsersetRoles(ctx, s, userID)
}

func (e *Evaluator) canAssign(ctx context.Context, s Settings, userID string) (Classification, error) {
	hasSystem, err := e.hasSystemRole(ctx, s, userID)
	if err != nil {
		return Invalid, err
	}
	if hasSystem {
		return SystemRole, nil
	}

	solutionID, err := e.userSolutionID(ctx, s, userID)
	if err != nil {
		return Invalid, err
	}
	if solutionID == "" {
		return NoUserSolutionID, nil
	}

	sets, err := e.solutionUsersets(ctx, solutionID)
	if err != nil {
		return Invalid, err
	}
	switch {
	case len(sets) == 0:
		return NoSolutionUsersets, nil
	case len(sets) > 1:
		return MoreThanOneSolutionUserset, nil
	}

	assignments, err := e.solutionUsersetRoles(ctx, s, userID)
	if err != nil {
		return Invalid, err
	}
	if len(assignments) > 0 {
		return SolutionUsersetRoleAssigned, nil
	}
	return Valid, nil
}

// validate also returns the matching userset once it is known.
func (e *Evaluator) validate(ctx context.Context, s Settings, userID string) (Classification, *Userset, error) {
	hasSystem, err := e.hasSystemRole(ctx, s, userID)
	if err != nil {
		return Invalid, nil, err
	}
	if !hasSystem {
		return NoSystemRole, nil, nil
	}

	solutionID, err := e.userSolutionID(ctx, s, userID)
	if err != nil {
		return Invalid, nil, err
	}
	if solutionID == "" {
		return NoUserSolutionID, nil, nil
	}

	sets, err := e.solutionUsersets(ctx, solutionID)
	if err != nil {
		return Invalid, nil, err
	}
	switch {
	case len(sets) == 0:
		return NoSolutionUsersets, nil, nil
	case len(sets) > 1:
		return MoreThanOneSolutionUserset, nil, nil
	}
	set := sets[0]

	assignments, err := e.solutionUsersetRoles(ctx, s, userID)
	if err != nil {
		return Invalid, nil, err
	}
	for _, a := range assignments {
		if a.InstanceID != set.ID {
			return InvalidSolutionUsersetRole, &set, nil
		}
	}

	// Re-read so the count reflects the store after the stale-assignment scan.
	assignments, err = e.solutionUsersetRoles(ctx, s, userID)
	if err != nil {
		return Invalid, nil, err
	}
	switch {
	case len(assignments) == 0:
		return NoSolutionUsersetRoles, &set, nil
	case len(assignments) > 1:
		return MoreThanOneSolutionUserset, &set, nil
	case assignments[0].InstanceID == set.ID:
		return Valid, &set, nil
	}
	// The single assignment moved to another userset between the two reads.
	return Invalid, &set, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (e *Evaluator) snapshot(ctx context.Context) (Settings, error) {
	s, err := e.settings.Settings(ctx)
	if err != nil {
		return Settings{}, settingsError(err)
	}
	return s.WithDefaults(), nil
}

func (e *Evaluator) hasSystemRole(ctx context.Context, s Settings, userID string) (bool, error) {
	if s.SystemRoleID == "" {
		return false, nil
	}
	ok, err := e.roles.HasAssignment(ctx, s.SystemRoleID, userID, SystemContextID)
	if err != nil {
		return false, roleStoreError(err, userID, s.SystemRoleID, "checking system role").WithContext(SystemContextID)
	}
	return ok, nil
}

func (e *Evaluator) hasUsersetRole(ctx context.Context, s Settings, userID string) (bool, error) {
	solutionID, err := e.userSolutionID(ctx, s, userID)
	if err != nil || solutionID == "" {
		return false, err
	}
	sets, err := e.solutionUsersets(ctx, solutionID)
	if err != nil || len(sets) == 0 {
		return false, err
	}
	if s.UsersetRoleID == "" {
		return false, nil
	}
	contextID := sets[0].ContextID
	ok, err := e.roles.HasAssignment(ctx, s.UsersetRoleID, userID, contextID)
	if err != nil {
		return false, roleStoreError(err, userID, s.UsersetRoleID, "checking userset role").WithContext(contextID)
	}
	return ok, nil
}

// userSolutionID returns the raw solution id, or "" when it is missing.
func (e *Evaluator) userSolutionID(ctx context.Context, s Settings, userID string) (string, error) {
	value, ok, err := e.directory.Attribute(ctx, userID, s.SolutionField)
	if err != nil {
		return "", directoryError(err, userID, "reading solution id")
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

func (e *Evaluator) solutionUsersets(ctx context.Context, solutionID string) ([]Userset, error) {
	cleaned := CleanSolutionID(solutionID)
	if cleaned == "" {
		return nil, nil
	}
	found, err := e.directory.UsersetsBySolutionID(ctx, cleaned)
	if err != nil {
		return nil, NewError(ErrDirectory, "listing solution usersets").WithCause(err)
	}
	sets := make([]Userset, 0, len(found))
	for _, u := range found {
		if u.Depth == SolutionUsersetDepth {
			sets = append(sets, u)
		}
	}
	slices.SortFunc(sets, func(a, b Userset) int {
		return strings.Compare(a.ID, b.ID)
	})
	return sets, nil
}

func (e *Evaluator) solutionUsersetRoles(ctx context.Context, s Settings, userID string) ([]RoleAssignment, error) {
	if s.UsersetRoleID == "" {
		return nil, nil
	}
	assignments, err := e.roles.Assignments(ctx, s.UsersetRoleID, userID, LevelUserset)
	if err != nil {
		return nil, roleStoreError(err, userID, s.UsersetRoleID, "listing userset assignments")
	}
	return assignments, nil
}

func (e *Evaluator) observe(ctx context.Context, operation, userID string, c Classification) {
	e.metrics.observeEvaluation(operation, c)
	e.logger.DebugContext(ctx, "classified user",
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.String("classification", c.String()),
	)
}
