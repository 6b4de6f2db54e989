package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	idlink "github.com/jferrer/idlink"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed to start: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state, err := store.Get(ctx, "unknown")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Authenticated() {
		t.Errorf("unknown handle should be anonymous")
	}

	pending := &idlink.PendingIdentity{
		Provider:  idlink.ProviderGitHub,
		Profile:   idlink.RawProfile{Provider: idlink.ProviderGitHub, ExternalID: "gh-1"},
		CreatedAt: time.Now(),
	}
	if err := store.Set(ctx, "h1", &idlink.SessionState{Pending: pending}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	state, err = store.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got := state.PendingIdentity()
	if got == nil || got.Profile.ExternalID != "gh-1" {
		t.Fatalf("pending identity did not survive the round trip: %+v", state)
	}

	if err := store.Clear(ctx, "h1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	state, _ = store.Get(ctx, "h1")
	if state.PendingIdentity() != nil {
		t.Errorf("cleared session still has pending identity")
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	store.TTL = time.Minute
	ctx := context.Background()

	if err := store.Set(ctx, "h1", &idlink.SessionState{AccountID: "u1"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	state, err := store.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Authenticated() {
		t.Errorf("expired session should be anonymous")
	}
}
