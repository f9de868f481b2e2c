package tmrequest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetUserID tests retrieving user ID from context
func TestGetUserID(t *testing.T) {
	t.Run("User ID in context", func(t *testing.T) {
		ctx := WithUserID(context.Background(), "42")
		assert.Equal(t, "42", GetUserID(ctx))
	})

	t.Run("User ID not in context", func(t *testing.T) {
		assert.Equal(t, "", GetUserID(context.Background()))
	})

	t.Run("Wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), contextKeyUserID, 42)
		assert.Equal(t, "", GetUserID(ctx))
	})
}

// TestGetActorID tests the actor fallback to the user
func TestGetActorID(t *testing.T) {
	t.Run("Explicit actor", func(t *testing.T) {
		ctx := WithActorID(WithUserID(context.Background(), "42"), "admin")
		assert.Equal(t, "admin", GetActorID(ctx))
	})

	t.Run("Falls back to user ID", func(t *testing.T) {
		ctx := WithUserID(context.Background(), "42")
		assert.Equal(t, "42", GetActorID(ctx))
	})

	t.Run("Neither set", func(t *testing.T) {
		assert.Equal(t, "", GetActorID(context.Background()))
	})
}

// TestEnsureRequestID tests request ID generation
func TestEnsureRequestID(t *testing.T) {
	t.Run("Keeps existing ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-1")
		ctx, id := EnsureRequestID(ctx)
		assert.Equal(t, "req-1", id)
		assert.Equal(t, "req-1", GetRequestID(ctx))
	})

	t.Run("Generates a UUID", func(t *testing.T) {
		ctx, id := EnsureRequestID(context.Background())
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, GetRequestID(ctx))
	})
}

// TestAuditContext tests setting and reading audit information at once
func TestAuditContext(t *testing.T) {
	ac := AuditContext{
		ActorID:   "admin",
		IPAddress: "10.0.0.1",
		UserAgent: "curl/8.0",
		RequestID: "req-7",
	}

	ctx := WithAuditContext(context.Background(), ac)
	assert.Equal(t, ac, GetAuditContext(ctx))

	t.Run("Partial context leaves other values unset", func(t *testing.T) {
		ctx := WithAuditContext(context.Background(), AuditContext{IPAddress: "10.0.0.2"})
		got := GetAuditContext(ctx)
		assert.Equal(t, "10.0.0.2", got.IPAddress)
		assert.Empty(t, got.ActorID)
		assert.Empty(t, got.RequestID)
	})
}
