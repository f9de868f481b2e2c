package tmrequest

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	contextKeyUserID    contextKey = "tmrequest:user_id"
	contextKeyActorID   contextKey = "tmrequest:actor_id"
	contextKeyIPAddress contextKey = "tmrequest:ip_address"
	contextKeyUserAgent contextKey = "tmrequest:user_agent"
	contextKeyRequestID contextKey = "tmrequest:request_id"
)

// stringValue returns the string stored under key, or "" when it is missing
// or of another type.
func stringValue(ctx context.Context, key contextKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithUserID stores the id of the user the request acts on.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// GetUserID returns the user id set by WithUserID.
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, contextKeyUserID)
}

// WithActorID stores who triggered a role change. For a self-service
// request the actor is the user.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, contextKeyActorID, actorID)
}

// GetActorID returns the actor, falling back to the user id.
func GetActorID(ctx context.Context) string {
	if actor := stringValue(ctx, contextKeyActorID); actor != "" {
		return actor
	}
	return GetUserID(ctx)
}

// WithRequestID stores a correlation id recorded on every audit entry.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// GetRequestID returns the request id, or "".
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, contextKeyRequestID)
}

// EnsureRequestID returns a context carrying a request ID, generating one
// when none is set.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := GetRequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// AuditContext is the request metadata copied onto audit entries.
type AuditContext struct {
	ActorID   string
	IPAddress string
	UserAgent string
	RequestID string
}

// GetAuditContext reads the audit metadata from ctx.
func GetAuditContext(ctx context.Context) AuditContext {
	return AuditContext{
		ActorID:   GetActorID(ctx),
		IPAddress: stringValue(ctx, contextKeyIPAddress),
		UserAgent: stringValue(ctx, contextKeyUserAgent),
		RequestID: GetRequestID(ctx),
	}
}

// WithAuditContext stores every non-empty field of ac.
func WithAuditContext(ctx context.Context, ac AuditContext) context.Context {
	for key, value := range map[contextKey]string{
		contextKeyActorID:   ac.ActorID,
		contextKeyIPAddress: ac.IPAddress,
		contextKeyUserAgent: ac.UserAgent,
		contextKeyRequestID: ac.RequestID,
	} {
		if value != "" {
			ctx = context.WithValue(ctx, key, value)
		}
	}
	return ctx
}
