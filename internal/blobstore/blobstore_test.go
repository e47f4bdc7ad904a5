package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPutWritesFileUnderNestedKey(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	if err := store.Put(context.Background(), "insights/manual/run-1.csv", []byte("a,b,c\n1,2,3\n")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "insights", "manual", "run-1.csv"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "a,b,c\n1,2,3\n" {
		t.Errorf("content = %q, want %q", got, "a,b,c\n1,2,3\n")
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	if err := store.Put(ctx, "manifests/run-1.json", []byte("old")); err != nil {
		t.Fatalf("Put() first write error = %v", err)
	}
	if err := store.Put(ctx, "manifests/run-1.json", []byte("new")); err != nil {
		t.Fatalf("Put() second write error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "manifests", "run-1.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "new" {
		t.Errorf("content = %q, want %q", got, "new")
	}

	entries, err := os.ReadDir(filepath.Join(dir, "manifests"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, got %d entries", len(entries))
	}
}
