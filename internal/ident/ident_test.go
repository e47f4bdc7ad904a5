package ident

import (
	"sort"
	"testing"
	"time"
)

func TestNewRoundTripsTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC).Truncate(time.Millisecond)
	id, err := New(now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(id) != totalChars {
		t.Fatalf("len(id) = %d, want %d", len(id), totalChars)
	}
	got, err := DecodeTime(id)
	if err != nil {
		t.Fatalf("DecodeTime: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("DecodeTime = %v, want %v", got, now)
	}
}

func TestDecodeTimeRejectsBadLength(t *testing.T) {
	if _, err := DecodeTime("short"); err == nil {
		t.Fatal("expected error for short id")
	}
}

func TestMonotonicOrdersBySequence(t *testing.T) {
	m := NewMonotonic()
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 500; i++ {
		id, err := m.New(now)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ids = append(ids, id)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ids not in lexicographic order at index %d: %q vs sorted %q", i, ids[i], sorted[i])
		}
	}
}

func TestMonotonicAcrossMillisecondBoundary(t *testing.T) {
	m := NewMonotonic()
	t0 := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	t1 := t0.Add(time.Millisecond)

	a, err := m.New(t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := m.New(t1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !(a < b) {
		t.Fatalf("expected %q < %q across millisecond boundary", a, b)
	}
}
