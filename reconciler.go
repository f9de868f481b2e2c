package tmrequest

import (
	"context"
	"errors"
	"log/slog"
)

// Reconciler assigns and removes the two training manager role assignments.
// It embeds the Evaluator, so every read-only check is available on it too.
//
// Reconciler does not serialize concurrent operations on the same user unless
// a Locker is configured with WithLocker.
type Reconciler struct {
	*Evaluator

	audit         AuditLogger
	locker        Locker
	notifier      *Notifier
	policy        AssignPolicy
	revokeInvalid bool
}

// NewReconciler creates a Reconciler.
//
// Example:
//
//	store := tmrequest.NewBunStore(db.Bun())
//	rec := tmrequest.NewReconciler(store, store, store,
//	    tmrequest.WithAuditLogger(store),
//	    tmrequest.WithLogger(logger),
//	)
func NewReconciler(directory Directory, roles RoleStore, settings SettingsProvider, opts ...Option) *Reconciler {
	o := newOptions(opts)
	return &Reconciler{
		Evaluator:     newEvaluator(directory, roles, settings, o),
		audit:         o.audit,
		locker:        o.locker,
		notifier:      o.notifier,
		policy:        o.policy,
		revokeInvalid: o.revokeInvalid,
	}
}

// Report describes what Reconcile found and changed.
type Report struct {
	UserID  string
	Before  Classification
	After   Classification
	Removed []RoleAssignment
	// Revoked is true when every assignment was removed because the user
	// could not be repaired.
	Revoked bool
}

// Changed reports whether Reconcile removed any assignment.
func (r *Report) Changed() bool {
	return len(r.Removed) > 0
}

// ============================================================================
// ASSIGNMENT OPERATIONS
// ============================================================================

// AssignSystemRole assigns the configured system role in the system context.
// Returns false without touching the store when no system role is configured.
func (r *Reconciler) AssignSystemRole(ctx context.Context, userID string) (bool, error) {
	s, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return r.assignSystemRole(ctx, s, userID)
}

// AssignUsersetRole assigns the configured userset role on the userset
// matching the user's solution id. Returns false when the user has no
// solution id, no userset matches, the userset role is not configured, or the
// user already holds any userset-level assignment of that role.
func (r *Reconciler) AssignUsersetRole(ctx context.Context, userID string) (bool, error) {
	s, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return r.assignUsersetRole(ctx, s, userID)
}

// AssignAll assigns the system role, then the userset role.
// When the userset step fails the configured AssignPolicy decides whether a
// system assignment created by this call is removed again.
func (r *Reconciler) AssignAll(ctx context.Context, userID string) (bool, error) {
	s, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return r.assignAll(ctx, s, userID)
}

// ============================================================================
// REMOVAL OPERATIONS
// ============================================================================

// UnassignSystemRole removes the system role from the system context.
func (r *Reconciler) UnassignSystemRole(ctx context.Context, userID string) (bool, error) {
	s, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return r.unassignSystemRole(ctx, s, userID)
}

// UnassignUsersetRole removes the userset role from one userset context.
func (r *Reconciler) UnassignUsersetRole(ctx context.Context, userID, contextID string) (bool, error) {
	s, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	if s.UsersetRoleID == "" {
		return false, nil
	}
	scope := Scope{ContextID: contextID, Level: LevelUserset}
	if err := r.unassign(ctx, "unassign_userset_role", s.UsersetRoleID, userID, scope); err != nil {
		return false, err
	}
	return true, nil
}

// UnassignAllUsersetRoles removes every userset-level assignment of the
// userset role. Every removal is attempted; failures are joined.
func (r *Reconciler) UnassignAllUsersetRoles(ctx context.Context, userID string) (bool, error) {
	s, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	_, err = r.unassignAllUsersetRoles(ctx, s, userID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// UnassignAll removes the system role and every userset role assignment.
// Returns false when the system role is not configured or a removal failed.
func (r *Reconciler) UnassignAll(ctx context.Context, userID string) (bool, error) {
	s, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	sysOK, sysErr := r.unassignSystemRole(ctx, s, userID)
	_, usersetErr := r.unassignAllUsersetRoles(ctx, s, userID)
	if err := errors.Join(sysErr, usersetErr); err != nil {
		return false, err
	}
	return sysOK, nil
}

// ============================================================================
// WORKFLOWS
// ============================================================================

// Request is the self-service flow: classify with CanAssign, assign both roles
// when the user is eligible and notify the administrator.
//
// The returned classification is the CanAssign outcome, or Invalid when the
// user was eligible but the assignment could not be completed.
func (r *Reconciler) Request(ctx context.Context, userID string) (Classification, error) {
	unlock, err := r.lock(ctx, userID)
	if err != nil {
		return Invalid, err
	}
	defer unlock()

	ctx, _ = EnsureRequestID(ctx)

	s, err := r.snapshot(ctx)
	if err != nil {
		return Invalid, err
	}
	c, err := r.canAssign(ctx, s, userID)
	if err != nil {
		return Invalid, err
	}
	r.observe(ctx, "request", userID, c)
	if c != Valid {
		return c, nil
	}

	ok, err := r.assignAll(ctx, s, userID)
	if err != nil {
		return Invalid, err
	}
	if !ok {
		r.logger.WarnContext(ctx, "training manager request could not be completed",
			slog.String("user_id", userID))
		return Invalid, nil
	}

	if r.notifier != nil {
		r.notifier.NotifyAssignment(ctx, userID)
	}
	return Valid, nil
}

// Reconcile validates the user and repairs what can be repaired.
// Userset assignments outside the matching userset are removed and the user
// is validated again. With WithRevokeInvalid, a user still not valid loses
// every training manager assignment.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (*Report, error) {
	unlock, err := r.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, _ = EnsureRequestID(ctx)

	s, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	before, set, err := r.validate(ctx, s, userID)
	if err != nil {
		return nil, err
	}
	report := &Report{UserID: userID, Before: before, After: before}

	if before == InvalidSolutionUsersetRole && set != nil {
		assignments, err := r.solutionUsersetRoles(ctx, s, userID)
		if err != nil {
			return report, err
		}
		var errs []error
		for _, a := range assignments {
			if a.InstanceID == set.ID {
				continue
			}
			if err := r.unassign(ctx, "reconcile", s.UsersetRoleID, userID, a.Scope()); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Removed = append(report.Removed, a)
		}
		if err := errors.Join(errs...); err != nil {
			return report, err
		}
		if report.After, _, err = r.validate(ctx, s, userID); err != nil {
			return report, err
		}
	}

	if r.revokeInvalid && !report.After.IsValid() {
		removed, err := r.revokeAll(ctx, s, userID)
		report.Removed = append(report.Removed, removed...)
		report.Revoked = len(removed) > 0
		if err != nil {
			return report, err
		}
		if report.After, _, err = r.validate(ctx, s, userID); err != nil {
			return report, err
		}
	}

	r.observe(ctx, "reconcile", userID, report.After)
	if report.Changed() {
		r.logger.InfoContext(ctx, "reconciled training manager",
			slog.String("user_id", userID),
			slog.String("before", report.Before.String()),
			slog.String("after", report.After.String()),
			slog.Int("removed", len(report.Removed)),
		)
	}
	return report, nil
}

// ============================================================================
// INTERNALS
// ============================================================================

func (r *Reconciler) assignSystemRole(ctx context.Context, s Settings, userID string) (bool, error) {
	if s.SystemRoleID == "" {
		r.metrics.observeMutation("assign_system_role", outcomeSkipped)
		return false, nil
	}
	if err := r.assign(ctx, "assign_system_role", s.SystemRoleID, userID, SystemScope()); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) assignUsersetRole(ctx context.Context, s Settings, userID string) (bool, error) {
	solutionID, err := r.userSolutionID(ctx, s, userID)
	if err != nil || solutionID == "" {
		return false, err
	}
	sets, err := r.solutionUsersets(ctx, solutionID)
	if err != nil || len(sets) == 0 {
		return false, err
	}
	if s.UsersetRoleID == "" {
		r.metrics.observeMutation("assign_userset_role", outcomeSkipped)
		return false, nil
	}
	existing, err := r.solutionUsersetRoles(ctx, s, userID)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		r.metrics.observeMutation("assign_userset_role", outcomeSkipped)
		return false, nil
	}
	if err := r.assign(ctx, "assign_userset_role", s.UsersetRoleID, userID, sets[0].Scope()); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) assignAll(ctx context.Context, s Settings, userID string) (bool, error) {
	hadSystem := true
	if r.policy == PolicyRollback {
		var err error
		if hadSystem, err = r.hasSystemRole(ctx, s, userID); err != nil {
			return false, err
		}
	}

	ok, err := r.assignSystemRole(ctx, s, userID)
	if err != nil || !ok {
		return false, err
	}

	ok, err = r.assignUsersetRole(ctx, s, userID)
	if err == nil && ok {
		return true, nil
	}

	if !hadSystem {
		if rbErr := r.unassign(ctx, "rollback_system_role", s.SystemRoleID, userID, SystemScope()); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		r.logger.InfoContext(ctx, "rolled back system role after userset assignment failed",
			slog.String("user_id", userID))
	}
	return false, err
}

func (r *Reconciler) unassignSystemRole(ctx context.Context, s Settings, userID string) (bool, error) {
	if s.SystemRoleID == "" {
		return false, nil
	}
	if err := r.unassign(ctx, "unassign_system_role", s.SystemRoleID, userID, SystemScope()); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) unassignAllUsersetRoles(ctx context.Context, s Settings, userID string) ([]RoleAssignment, error) {
	assignments, err := r.solutionUsersetRoles(ctx, s, userID)
	if err != nil {
		return nil, err
	}
	var (
		removed []RoleAssignment
		errs    []error
	)
	for _, a := range assignments {
		if err := r.unassign(ctx, "unassign_userset_role", s.UsersetRoleID, userID, a.Scope()); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, a)
	}
	return removed, errors.Join(errs...)
}

// revokeAll removes everything the user holds and returns what was removed.
func (r *Reconciler) revokeAll(ctx context.Context, s Settings, userID string) ([]RoleAssignment, error) {
	var removed []RoleAssignment
	hasSystem, err := r.hasSystemRole(ctx, s, userID)
	if err != nil {
		return nil, err
	}
	var sysErr error
	if hasSystem {
		if sysErr = r.unassign(ctx, "revoke_system_role", s.SystemRoleID, userID, SystemScope()); sysErr == nil {
			removed = append(removed, RoleAssignment{
				RoleID:       s.SystemRoleID,
				UserID:       userID,
				ContextID:    SystemContextID,
				ContextLevel: LevelSystem,
			})
		}
	}
	usersetRemoved, usersetErr := r.unassignAllUsersetRoles(ctx, s, userID)
	removed = append(removed, usersetRemoved...)
	return removed, errors.Join(sysErr, usersetErr)
}

func (r *Reconciler) assign(ctx context.Context, operation, roleID, userID string, scope Scope) error {
	if err := r.roles.Assign(ctx, roleID, userID, scope); err != nil {
		r.metrics.observeMutation(operation, outcomeError)
		return roleStoreError(err, userID, roleID, "assigning role").WithContext(scope.ContextID)
	}
	r.metrics.observeMutation(operation, outcomeOK)
	r.logger.InfoContext(ctx, "assigned role",
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.String("role_id", roleID),
		slog.String("scope", scope.String()),
	)
	r.record(ctx, AuditActionAssigned, operation, roleID, userID, scope)
	return nil
}

func (r *Reconciler) unassign(ctx context.Context, operation, roleID, userID string, scope Scope) error {
	if err := r.roles.Unassign(ctx, roleID, userID, scope.ContextID); err != nil {
		r.metrics.observeMutation(operation, outcomeError)
		return roleStoreError(err, userID, roleID, "removing role").WithContext(scope.ContextID)
	}
	r.metrics.observeMutation(operation, outcomeOK)
	r.logger.InfoContext(ctx, "removed role",
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.String("role_id", roleID),
		slog.String("scope", scope.String()),
	)
	r.record(ctx, AuditActionRevoked, operation, roleID, userID, scope)
	return nil
}

func (r *Reconciler) record(ctx context.Context, action AuditAction, operation, roleID, userID string, scope Scope) {
	if r.audit == nil {
		return
	}
	audit := GetAuditContext(ctx)
	entry := &AuditEntry{
		ActorID:      audit.ActorID,
		Action:       action,
		TargetUserID: userID,
		RoleID:       roleID,
		Scope:        scope,
		Operation:    operation,
		IPAddress:    audit.IPAddress,
		UserAgent:    audit.UserAgent,
		RequestID:    audit.RequestID,
	}
	if err := r.audit.LogAudit(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "failed to write audit entry",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}

func (r *Reconciler) lock(ctx context.Context, userID string) (func(), error) {
	if r.locker == nil {
		return func() {}, nil
	}
	unlock, err := r.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	return unlock, nil
}
