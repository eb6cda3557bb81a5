package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store: err = %v, want ErrNotFound", err)
	}

	if err := m.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get = %q, want v1", got)
	}

	// Mutating the returned slice must not affect the stored copy.
	got[0] = 'x'
	again, err := m.Get(ctx, "k")
	if err != nil || string(again) != "v1" {
		t.Fatalf("stored value mutated through returned slice: %q, %v", again, err)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestMemory_DeleteMissingIsNoop(t *testing.T) {
	m := NewMemory()
	if err := m.Delete(context.Background(), "never-set"); err != nil {
		t.Fatalf("Delete missing key: %v", err)
	}
}

func TestMemory_RespectsContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Set(ctx, "k", []byte("v")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Set with canceled context: err = %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Get with canceled context: err = %v", err)
	}
}
