// Package tmrequest decides and enforces the training manager rule.
//
// A user is a training manager only while they hold two role assignments at
// once: the configured system role in the system context, and exactly one
// configured userset role on the userset whose solution id equals the user's
// own solution id. Solution usersets are the usersets at depth two of the
// userset hierarchy.
//
// # Core Concepts
//
// Directory: read access to users, their profile attributes and the userset
// hierarchy.
//
// RoleStore: role assignments keyed by (role, user, context).
//
// SettingsProvider: the configured role ids, the profile field that holds the
// solution id and the notification template. Settings are read fresh on every
// call, so changing them takes effect immediately.
//
// Classification: the closed set of outcomes returned by CanAssign and
// Validate.
//
// # Basic Usage
//
//	store := tmrequest.NewMemoryStore()
//	store.SetSettings(tmrequest.Settings{
//	    SystemRoleID:  "tm-system",
//	    UsersetRoleID: "tm-userset",
//	})
//	store.AddUserset(tmrequest.Userset{ID: "10", Depth: 2, SolutionID: "acme", ContextID: "ctx-10"})
//	store.AddUser(tmrequest.User{ID: "42", Attributes: map[string]string{"customerid": "acme"}})
//
//	rec := tmrequest.NewReconciler(store, store, store)
//
//	class, err := rec.Request(ctx, "42")
//	if err != nil {
//	    return err
//	}
//	// class == tmrequest.Valid and the user now holds both assignments
//
//	class, err = rec.Validate(ctx, "42")
//
// # Reconciliation
//
// Reconcile validates a user and repairs the one state that can be repaired
// automatically: stale userset assignments left behind after the user's
// solution id changed. With WithRevokeInvalid every other invalid state is
// resolved by removing all training manager assignments.
//
// # Persistence
//
// BunStore implements Directory, RoleStore, SettingsProvider and AuditLogger
// on top of bun. Migrations returns the Postgres schema as dbkit migrations;
// CreateSchema builds the same tables through bun for any dialect.
package tmrequest
