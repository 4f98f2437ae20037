package transcript

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFlush_ConcatenatesFragmentsVerbatim(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.AddModel("Hel")
	a.AddModel("lo")

	entries := a.Flush(time.Now())
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Text != "Hello" {
		t.Errorf("Text = %q, want %q", entries[0].Text, "Hello")
	}
	if entries[0].Role != RoleModel {
		t.Errorf("Role = %q, want %q", entries[0].Role, RoleModel)
	}
}

func TestFlush_UserBeforeModel(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.AddModel("It is noon.")
	a.AddUser("what time is it")

	entries := a.Flush(time.Now())
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Role != RoleUser {
		t.Errorf("entries[0].Role = %q, want user first", entries[0].Role)
	}
	if entries[1].Role != RoleModel {
		t.Errorf("entries[1].Role = %q, want model second", entries[1].Role)
	}
}

func TestFlush_TrimsWhitespace(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.AddUser("  hello there \n")

	entries := a.Flush(time.Now())
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Text != "hello there" {
		t.Errorf("Text = %q, want %q", entries[0].Text, "hello there")
	}
}

func TestFlush_EmptyBuffersProduceNoEntries(t *testing.T) {
	t.Parallel()
	var a Accumulator
	if entries := a.Flush(time.Now()); len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}

	// Whitespace-only fragments also flush to nothing.
	a.AddUser("   ")
	a.AddModel("\n\t")
	if entries := a.Flush(time.Now()); len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0 for whitespace-only turn", len(entries))
	}
}

func TestFlush_EmptiesBuffers(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.AddUser("first turn")
	a.Flush(time.Now())

	a.AddUser("second turn")
	entries := a.Flush(time.Now())
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Text != "second turn" {
		t.Errorf("Text = %q, want %q (no leftovers from first turn)", entries[0].Text, "second turn")
	}
}

func TestFlush_StampsCreatedAt(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.AddUser("hi")

	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	entries := a.Flush(now)
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if !entries[0].CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", entries[0].CreatedAt, now)
	}
	if entries[0].ID == uuid.Nil {
		t.Error("ID should be populated")
	}
}

func TestReset_DiscardsBuffers(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.AddUser("half a sen")
	a.AddModel("tence")
	a.Reset()

	if entries := a.Flush(time.Now()); len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0 after Reset", len(entries))
	}
}

func TestAccumulator_ConcurrentAdds(t *testing.T) {
	t.Parallel()
	var a Accumulator

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 64 {
				a.AddUser("u")
				a.AddModel("m")
			}
		})
	}
	wg.Wait()

	entries := a.Flush(time.Now())
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if len(entries[0].Text) != 8*64 {
		t.Errorf("user text length = %d, want %d", len(entries[0].Text), 8*64)
	}
	if len(entries[1].Text) != 8*64 {
		t.Errorf("model text length = %d, want %d", len(entries[1].Text), 8*64)
	}
}
