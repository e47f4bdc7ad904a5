package sqlite

import (
	"context"
	"testing"
)

func TestTokenStoreRoundTripAndRevoke(t *testing.T) {
	s := openTestStore(t)
	store := NewTokenStore(s)
	ctx := context.Background()

	if err := store.Put(ctx, "ref-1", "longlivedtoken"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Resolve(ctx, "ref-1")
	if err != nil || got != "longlivedtoken" {
		t.Fatalf("Resolve = %q, %v, want longlivedtoken", got, err)
	}

	if err := store.Put(ctx, "ref-1", "rotatedtoken"); err != nil {
		t.Fatalf("Put (update): %v", err)
	}
	got, err = store.Resolve(ctx, "ref-1")
	if err != nil || got != "rotatedtoken" {
		t.Fatalf("Resolve after update = %q, %v, want rotatedtoken", got, err)
	}

	if err := store.Revoke(ctx, "ref-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	got, err = store.Resolve(ctx, "ref-1")
	if err != nil || got != "" {
		t.Fatalf("Resolve after revoke = %q, %v, want empty", got, err)
	}
}

func TestTokenStoreResolveUnknownRefReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	store := NewTokenStore(s)

	got, err := store.Resolve(context.Background(), "missing")
	if err != nil || got != "" {
		t.Fatalf("Resolve(missing) = %q, %v, want empty, nil", got, err)
	}
}
