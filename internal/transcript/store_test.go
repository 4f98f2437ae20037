package transcript

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_AppendAndAll(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	if err := s.Append(ctx, NewEntry(RoleUser, "hi", now), NewEntry(RoleModel, "hello", now)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Text != "hi" || entries[1].Text != "hello" {
		t.Errorf("entries out of order: %q, %q", entries[0].Text, entries[1].Text)
	}
}

func TestMemoryStore_AllReturnsCopy(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Append(ctx, NewEntry(RoleUser, "original", time.Now()))
	entries, _ := s.All(ctx)
	entries[0].Text = "mutated"

	again, _ := s.All(ctx)
	if again[0].Text != "original" {
		t.Errorf("store entry mutated through returned slice: %q", again[0].Text)
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Append(ctx, NewEntry(RoleUser, "hi", time.Now()))
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	entries, _ := s.All(ctx)
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d after Clear, want 0", len(entries))
	}
}
