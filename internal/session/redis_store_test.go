package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	err := store.SaveRefreshSession(ctx, "hash-1", "user-123", time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	userID, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if userID != "user-123" {
		t.Errorf("expected user-123, got %s", userID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-exp", "user-456", time.Now().Add(time.Millisecond)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Millisecond)

	if _, err := store.LookupRefreshSession(ctx, "hash-exp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired token, got %v", err)
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	if _, err := store.LookupRefreshSession(context.Background(), "no-such-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRejectsAlreadyExpired(t *testing.T) {
	store, _ := setupTestRedis(t)

	if err := store.SaveRefreshSession(context.Background(), "hash-past", "user-1", time.Now().Add(-time.Minute)); err == nil {
		t.Error("expected error saving an already-expired session")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-rev", "user-789", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := store.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "hash-rev"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}

	// revoking again is a no-op
	if err := store.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Errorf("revoking a missing session should not error: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, "hash-a", "user-a", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := store.SaveRefreshSession(ctx, "hash-b", "user-b", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	if err := store.RevokeRefreshSession(ctx, "hash-a"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}

	if _, err := store.LookupRefreshSession(ctx, "hash-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected hash-a gone, got %v", err)
	}
	userID, err := store.LookupRefreshSession(ctx, "hash-b")
	if err != nil {
		t.Fatalf("LookupRefreshSession hash-b failed: %v", err)
	}
	if userID != "user-b" {
		t.Errorf("expected user-b, got %s", userID)
	}
}
