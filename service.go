package tmrequest

import (
	"log/slog"
)

// AssignPolicy controls what AssignAll does when the userset step fails
// after the system role was assigned.
type AssignPolicy int

const (
	// PolicyRollback removes a system assignment created by the same call.
	PolicyRollback AssignPolicy = iota
	// PolicyLeavePartial keeps the system assignment in place.
	PolicyLeavePartial
)

// String returns the policy name.
func (p AssignPolicy) String() string {
	switch p {
	case PolicyRollback:
		return "rollback"
	case PolicyLeavePartial:
		return "leave-partial"
	default:
		return "unknown"
	}
}

// Option configures an Evaluator or a Reconciler.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	metrics       *Metrics
	audit         AuditLogger
	locker        Locker
	notifier      *Notifier
	policy        AssignPolicy
	revokeInvalid bool
}

func newOptions(opts []Option) *options {
	o := &options{
		logger: slog.Default(),
		policy: PolicyRollback,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records evaluations and mutations on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithAuditLogger records every assignment change.
func WithAuditLogger(audit AuditLogger) Option {
	return func(o *options) {
		o.audit = audit
	}
}

// WithLocker serializes Request and Reconcile per user.
func WithLocker(locker Locker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithNotifier sends the administrator notification after a successful Request.
func WithNotifier(n *Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithAssignPolicy sets the AssignAll failure policy. Defaults to PolicyRollback.
func WithAssignPolicy(p AssignPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithRevokeInvalid makes Reconcile remove all training manager assignments
// from users that cannot be repaired.
func WithRevokeInvalid(revoke bool) Option {
	return func(o *options) {
		o.revokeInvalid = revoke
	}
}
