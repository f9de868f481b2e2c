package tmrequest

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersetAssignments(t *testing.T, store *MemoryStore, userID string) []RoleAssignment {
	t.Helper()
	list, err := store.Assignments(context.Background(), testUsersetRole, userID, LevelUserset)
	require.NoError(t, err)
	return list
}

// TestReconciler_SystemRoleRoundTrip tests assigning and removing the system role
func TestReconciler_SystemRoleRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rec := NewReconciler(store, store, store)

	ok, err := rec.AssignSystemRole(ctx, testUserID)
	require.NoError(t, err)
	assert.True(t, ok)

	has, err := rec.HasSystemRole(ctx, testUserID)
	require.NoError(t, err)
	assert.True(t, has)

	ok, err = rec.UnassignSystemRole(ctx, testUserID)
	require.NoError(t, err)
	assert.True(t, ok)

	has, err = rec.HasSystemRole(ctx, testUserID)
	require.NoError(t, err)
	assert.False(t, has)

	t.Run("Unconfigured role", func(t *testing.T) {
		store.SetSettings(Settings{UsersetRoleID: testUsersetRole})
		ok, err := rec.AssignSystemRole(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = rec.UnassignSystemRole(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// TestReconciler_AssignUsersetRole tests the userset assignment preconditions
func TestReconciler_AssignUsersetRole(t *testing.T) {
	ctx := context.Background()

	t.Run("Assigns on the matching userset", func(t *testing.T) {
		store := newTestStore(t)
		rec := NewReconciler(store, store, store)

		ok, err := rec.AssignUsersetRole(ctx, testUserID)
		require.NoError(t, err)
		assert.True(t, ok)

		list := usersetAssignments(t, store, testUserID)
		require.Len(t, list, 1)
		assert.Equal(t, "ctx-10", list[0].ContextID)
		assert.Equal(t, "10", list[0].InstanceID)

		has, err := rec.HasUsersetRole(ctx, testUserID)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("Refuses when any userset assignment exists", func(t *testing.T) {
		store := newTestStore(t)
		assignUserset(t, store, testUserID, "11", "ctx-11")
		rec := NewReconciler(store, store, store)

		ok, err := rec.AssignUsersetRole(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Len(t, usersetAssignments(t, store, testUserID), 1)
	})

	t.Run("Refuses without solution id", func(t *testing.T) {
		store := newTestStore(t)
		store.SetAttribute(testUserID, DefaultSolutionField, "")
		ok, err := NewReconciler(store, store, store).AssignUsersetRole(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Refuses without matching userset", func(t *testing.T) {
		store := newTestStore(t)
		store.SetAttribute(testUserID, DefaultSolutionField, "initech")
		ok, err := NewReconciler(store, store, store).AssignUsersetRole(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Refuses when role is unconfigured", func(t *testing.T) {
		store := newTestStore(t)
		store.SetSettings(Settings{SystemRoleID: testSystemRole})
		ok, err := NewReconciler(store, store, store).AssignUsersetRole(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, usersetAssignments(t, store, testUserID))
	})
}

// TestReconciler_AssignAll tests the two-step assignment and its failure policies
func TestReconciler_AssignAll(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		store := newTestStore(t)
		rec := NewReconciler(store, store, store)

		ok, err := rec.AssignAll(ctx, testUserID)
		require.NoError(t, err)
		assert.True(t, ok)

		has, err := rec.HasRole(ctx, testUserID)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("System step fails when unconfigured", func(t *testing.T) {
		store := newTestStore(t)
		store.SetSettings(Settings{UsersetRoleID: testUsersetRole})
		ok, err := NewReconciler(store, store, store).AssignAll(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, usersetAssignments(t, store, testUserID))
	})

	t.Run("Rollback removes the new system role", func(t *testing.T) {
		store := newTestStore(t)
		store.SetAttribute(testUserID, DefaultSolutionField, "initech")
		rec := NewReconciler(store, store, store)

		ok, err := rec.AssignAll(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)

		has, err := rec.HasSystemRole(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("Rollback keeps a pre-existing system role", func(t *testing.T) {
		store := newTestStore(t)
		assignSystem(t, store, testUserID)
		store.SetAttribute(testUserID, DefaultSolutionField, "initech")
		rec := NewReconciler(store, store, store)

		ok, err := rec.AssignAll(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)

		has, err := rec.HasSystemRole(ctx, testUserID)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("Leave partial keeps the system role", func(t *testing.T) {
		store := newTestStore(t)
		store.SetAttribute(testUserID, DefaultSolutionField, "initech")
		rec := NewReconciler(store, store, store, WithAssignPolicy(PolicyLeavePartial))

		ok, err := rec.AssignAll(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, ok)

		has, err := rec.HasSystemRole(ctx, testUserID)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("Store failure in userset step rolls back and reports", func(t *testing.T) {
		store := newTestStore(t)
		roles := &faultyRoleStore{RoleStore: store, failAssignRole: testUsersetRole}
		rec := NewReconciler(store, roles, store)

		ok, err := rec.AssignAll(ctx, testUserID)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrRoleStore)
		assert.ErrorIs(t, err, errInjected)

		has, err := rec.HasSystemRole(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, has)
	})
}

// TestReconciler_UnassignAllUsersetRoles tests removal with zero, one and many assignments
func TestReconciler_UnassignAllUsersetRoles(t *testing.T) {
	ctx := context.Background()

	for _, n := range []int{0, 1, 3} {
		store := newTestStore(t)
		ids := []string{"10", "11", "12"}
		store.AddUserset(Userset{ID: "12", Depth: 2, SolutionID: "hooli", ContextID: "ctx-12"})
		for i := 0; i < n; i++ {
			assignUserset(t, store, testUserID, ids[i], "ctx-"+ids[i])
		}
		// Another user's assignment must survive
		assignUserset(t, store, "7", "10", "ctx-10")

		ok, err := NewReconciler(store, store, store).UnassignAllUsersetRoles(ctx, testUserID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, usersetAssignments(t, store, testUserID))
		assert.Len(t, usersetAssignments(t, store, "7"), 1)
	}
}

// TestReconciler_UnassignAllUsersetRolesPartialFailure tests that every removal is attempted
func TestReconciler_UnassignAllUsersetRolesPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.AddUserset(Userset{ID: "12", Depth: 2, SolutionID: "hooli", ContextID: "ctx-12"})
	assignUserset(t, store, testUserID, "10", "ctx-10")
	assignUserset(t, store, testUserID, "11", "ctx-11")
	assignUserset(t, store, testUserID, "12", "ctx-12")

	roles := &faultyRoleStore{RoleStore: store, failUnassignCtx: "ctx-11"}
	ok, err := NewReconciler(store, roles, store).UnassignAllUsersetRoles(ctx, testUserID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errInjected)

	left := usersetAssignments(t, store, testUserID)
	require.Len(t, left, 1)
	assert.Equal(t, "ctx-11", left[0].ContextID)
}

// TestReconciler_UnassignAll tests removing everything
func TestReconciler_UnassignAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rec := NewReconciler(store, store, store)

	ok, err := rec.AssignAll(ctx, testUserID)
	require.NoError(t, err)
	require.True(t, ok)
	assignUserset(t, store, testUserID, "11", "ctx-11")

	ok, err = rec.UnassignAll(ctx, testUserID)
	require.NoError(t, err)
	assert.True(t, ok)

	has, err := rec.HasSystemRole(ctx, testUserID)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, usersetAssignments(t, store, testUserID))

	c, err := rec.Validate(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, NoSystemRole, c)
}

// TestReconciler_Request tests the self-service request flow
func TestReconciler_Request(t *testing.T) {
	ctx := context.Background()

	t.Run("Eligible user becomes training manager and admin is notified", func(t *testing.T) {
		store := newTestStore(t)
		sender := &recordingSender{}
		rec := NewReconciler(store, store, store, WithNotifier(NewNotifier(store, store, sender)))

		c, err := rec.Request(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, Valid, c)

		c, err = rec.Validate(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, Valid, c)

		msgs := sender.sent()
		require.Len(t, msgs, 1)
		assert.Equal(t, "admin@example.com", msgs[0].To)
		assert.Equal(t, "tm@example.com", msgs[0].From)
		assert.Equal(t, "<p>Terry Manager (acme) is now a training manager.</p>", msgs[0].HTMLBody)
	})

	t.Run("Existing system role blocks the request", func(t *testing.T) {
		store := newTestStore(t)
		assignSystem(t, store, testUserID)
		sender := &recordingSender{}
		rec := NewReconciler(store, store, store, WithNotifier(NewNotifier(store, store, sender)))

		c, err := rec.Request(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, SystemRole, c)
		assert.Empty(t, usersetAssignments(t, store, testUserID))
		assert.Empty(t, sender.sent())
	})

	t.Run("Missing solution id blocks the request", func(t *testing.T) {
		store := newTestStore(t)
		store.SetAttribute(testUserID, DefaultSolutionField, "")
		rec := NewReconciler(store, store, store)

		c, err := rec.Request(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, NoUserSolutionID, c)

		has, err := rec.HasSystemRole(ctx, testUserID)
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("Notification failure does not fail the request", func(t *testing.T) {
		store := newTestStore(t)
		sender := &recordingSender{err: errInjected}
		rec := NewReconciler(store, store, store, WithNotifier(NewNotifier(store, store, sender)))

		c, err := rec.Request(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, Valid, c)
	})

	t.Run("Eligible but incomplete assignment", func(t *testing.T) {
		store := newTestStore(t)
		store.SetSettings(Settings{UsersetRoleID: testUsersetRole})
		rec := NewReconciler(store, store, store)

		c, err := rec.Request(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, Invalid, c)
	})

	t.Run("Locked user", func(t *testing.T) {
		store := newTestStore(t)
		rec := NewReconciler(store, store, store, WithLocker(&stubLocker{busy: true}))

		_, err := rec.Request(ctx, testUserID)
		assert.True(t, IsLocked(err))
		assert.Empty(t, usersetAssignments(t, store, testUserID))
	})

	t.Run("Lock is released", func(t *testing.T) {
		store := newTestStore(t)
		locker := &stubLocker{}
		rec := NewReconciler(store, store, store, WithLocker(locker))

		_, err := rec.Request(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, 1, locker.locked)
		assert.Equal(t, 1, locker.unlocked)
	})
}

// TestReconciler_Reconcile tests repairing stale assignments
func TestReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("Valid user is left alone", func(t *testing.T) {
		store := newTestStore(t)
		rec := NewReconciler(store, store, store)
		_, err := rec.AssignAll(ctx, testUserID)
		require.NoError(t, err)

		report, err := rec.Reconcile(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, Valid, report.Before)
		assert.Equal(t, Valid, report.After)
		assert.False(t, report.Changed())
	})

	t.Run("Stale assignment after solution change is removed", func(t *testing.T) {
		store := newTestStore(t)
		rec := NewReconciler(store, store, store)
		_, err := rec.AssignAll(ctx, testUserID)
		require.NoError(t, err)

		store.SetAttribute(testUserID, DefaultSolutionField, "globex")
		assignUserset(t, store, testUserID, "11", "ctx-11")

		report, err := rec.Reconcile(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, InvalidSolutionUsersetRole, report.Before)
		assert.Equal(t, Valid, report.After)
		require.Len(t, report.Removed, 1)
		assert.Equal(t, "ctx-10", report.Removed[0].ContextID)
		assert.False(t, report.Revoked)
	})

	t.Run("Stale assignment only leaves nothing", func(t *testing.T) {
		store := newTestStore(t)
		rec := NewReconciler(store, store, store)
		_, err := rec.AssignAll(ctx, testUserID)
		require.NoError(t, err)
		store.SetAttribute(testUserID, DefaultSolutionField, "globex")

		report, err := rec.Reconcile(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, NoSolutionUsersetRoles, report.After)
		assert.Len(t, report.Removed, 1)
	})

	t.Run("Revoke invalid", func(t *testing.T) {
		store := newTestStore(t)
		rec := NewReconciler(store, store, store, WithRevokeInvalid(true))
		_, err := rec.AssignAll(ctx, testUserID)
		require.NoError(t, err)
		store.SetAttribute(testUserID, DefaultSolutionField, "")

		report, err := rec.Reconcile(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, NoUserSolutionID, report.Before)
		assert.Equal(t, NoSystemRole, report.After)
		assert.True(t, report.Revoked)
		assert.Len(t, report.Removed, 2)
	})

	t.Run("Revoke invalid with nothing to remove", func(t *testing.T) {
		store := newTestStore(t)
		rec := NewReconciler(store, store, store, WithRevokeInvalid(true))

		report, err := rec.Reconcile(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, NoSystemRole, report.After)
		assert.False(t, report.Revoked)
		assert.False(t, report.Changed())
	})
}

// TestReconciler_Audit tests that every change is audited with request metadata
func TestReconciler_Audit(t *testing.T) {
	store := newTestStore(t)
	audit := &memoryAuditLogger{}
	rec := NewReconciler(store, store, store, WithAuditLogger(audit))

	ctx := WithAuditContext(context.Background(), AuditContext{ActorID: "admin", RequestID: "req-9"})
	ok, err := rec.AssignAll(ctx, testUserID)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = rec.UnassignSystemRole(ctx, testUserID)
	require.NoError(t, err)

	require.Len(t, audit.entries, 3)
	assert.Equal(t, AuditActionAssigned, audit.entries[0].Action)
	assert.Equal(t, testSystemRole, audit.entries[0].RoleID)
	assert.Equal(t, SystemScope(), audit.entries[0].Scope)
	assert.Equal(t, testUsersetRole, audit.entries[1].RoleID)
	assert.Equal(t, "10", audit.entries[1].Scope.InstanceID)
	assert.Equal(t, AuditActionRevoked, audit.entries[2].Action)
	for _, e := range audit.entries {
		assert.Equal(t, "admin", e.ActorID)
		assert.Equal(t, "req-9", e.RequestID)
		assert.Equal(t, testUserID, e.TargetUserID)
	}
}

// TestReconciler_Metrics tests evaluation and mutation counters
func TestReconciler_Metrics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	rec := NewReconciler(store, store, store, WithMetrics(metrics))

	c, err := rec.Request(ctx, testUserID)
	require.NoError(t, err)
	require.Equal(t, Valid, c)
	_, err = rec.Validate(ctx, testUserID)
	require.NoError(t, err)
	_, err = rec.AssignUsersetRole(ctx, testUserID)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EvaluationsTotal.WithLabelValues("request", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EvaluationsTotal.WithLabelValues("validate", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("assign_system_role", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("assign_userset_role", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("assign_userset_role", outcomeSkipped)))
}

// TestReconciler_UnassignUsersetRole tests removing one userset context
func TestReconciler_UnassignUsersetRole(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	assignUserset(t, store, testUserID, "10", "ctx-10")
	assignUserset(t, store, testUserID, "11", "ctx-11")
	rec := NewReconciler(store, store, store)

	ok, err := rec.UnassignUsersetRole(ctx, testUserID, "ctx-11")
	require.NoError(t, err)
	assert.True(t, ok)

	left := usersetAssignments(t, store, testUserID)
	require.Len(t, left, 1)
	assert.Equal(t, "ctx-10", left[0].ContextID)

	store.SetSettings(Settings{SystemRoleID: testSystemRole})
	ok, err = rec.UnassignUsersetRole(ctx, testUserID, "ctx-10")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, usersetAssignments(t, store, testUserID), 1)
}
