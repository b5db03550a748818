package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestSaveAndLookupLogin(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	err := store.SaveLogin(ctx, "token-hash", "user-123", "octocat", time.Hour)
	if err != nil {
		t.Fatalf("SaveLogin failed: %v", err)
	}

	data, err := store.LookupLogin(ctx, "token-hash")
	if err != nil {
		t.Fatalf("LookupLogin failed: %v", err)
	}
	if data.UserID != "user-123" || data.Username != "octocat" {
		t.Errorf("unexpected login data: %+v", data)
	}
}

func TestLookupExpiredLogin(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveLogin(ctx, "expired-token", "user-456", "octocat", time.Millisecond); err != nil {
		t.Fatalf("SaveLogin failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := store.LookupLogin(ctx, "expired-token"); err == nil {
		t.Error("expected error for expired session, got nil")
	}
}

func TestLookupNonExistentLogin(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	if _, err := store.LookupLogin(context.Background(), "no-such-token"); err == nil {
		t.Error("expected error for non-existent session, got nil")
	}
}

func TestRevokeLogin(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveLogin(ctx, "revoke-me", "user-789", "octocat", time.Hour); err != nil {
		t.Fatalf("SaveLogin failed: %v", err)
	}
	if err := store.RevokeLogin(ctx, "revoke-me"); err != nil {
		t.Fatalf("RevokeLogin failed: %v", err)
	}
	if _, err := store.LookupLogin(ctx, "revoke-me"); err == nil {
		t.Error("expected error for revoked session, got nil")
	}

	// Revoking a missing session is not an error.
	if err := store.RevokeLogin(ctx, "no-such-token"); err != nil {
		t.Errorf("RevokeLogin for non-existent session failed: %v", err)
	}
}
