//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/session"
)

func TestStoreConsistencyRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _, repo, cleanup := newIntegrationStore(t)
	defer cleanup()

	sess := makeIntSession("u1", "sid-revoke", time.Now().Add(time.Hour))
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Revoke(ctx, "sid-revoke"); err != nil {
		t.Fatalf("first Revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, "sid-revoke"); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}

	if _, err := store.Get(ctx, "sid-revoke"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}

	row, ok := repo.row("sid-revoke")
	if !ok {
		t.Fatal("revoked session should still exist durably")
	}
	if row.IsActive || row.RevokedAt == nil {
		t.Fatalf("durable row should be inactive with RevokedAt set, got active=%v revokedAt=%v", row.IsActive, row.RevokedAt)
	}
}

// A cached copy must never outlive revocation: the cache entry is dropped
// before the durable write, and the durable row re-check catches the rest.
func TestStoreConsistencyCacheNeverResurrectsRevoked(t *testing.T) {
	ctx := context.Background()
	store, _, _, cleanup := newIntegrationStore(t)
	defer cleanup()

	sess := makeIntSession("u2", "sid-resurrect", time.Now().Add(time.Hour))
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Warm the cache.
	if _, err := store.Get(ctx, "sid-resurrect"); err != nil {
		t.Fatalf("warmup Get failed: %v", err)
	}

	if err := store.Revoke(ctx, "sid-resurrect"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Get(ctx, "sid-resurrect"); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("Get %d after revoke: expected ErrNotFound, got %v", i, err)
		}
	}
}

func TestStoreConsistencySweepRemovesExpiredOnly(t *testing.T) {
	ctx := context.Background()
	store, _, repo, cleanup := newIntegrationStore(t)
	defer cleanup()

	live := makeIntSession("u3", "sid-live", time.Now().Add(time.Hour))
	dead := makeIntSession("u3", "sid-dead", time.Now().Add(-time.Hour))
	if err := store.Create(ctx, live); err != nil {
		t.Fatalf("Create live failed: %v", err)
	}
	if err := store.Create(ctx, dead); err != nil {
		t.Fatalf("Create dead failed: %v", err)
	}

	n, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}

	if _, ok := repo.row("sid-dead"); ok {
		t.Fatal("expired session should be deleted durably")
	}
	if _, err := store.Get(ctx, "sid-live"); err != nil {
		t.Fatalf("live session should survive sweep, got %v", err)
	}
}
