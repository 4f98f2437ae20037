package sched

import (
	"errors"
	"testing"
	"time"

	"github.com/echoline-ai/echoline/pkg/audio"
	"github.com/echoline-ai/echoline/pkg/audio/device/mock"
)

var testFormat = audio.Format{SampleRate: 24000, Channels: 1}

// buf returns a buffer of the given duration at the test format.
func buf(t *testing.T, d time.Duration) audio.Buffer {
	t.Helper()
	samples := int(d.Seconds() * float64(testFormat.SampleRate))
	return audio.Buffer{PCM: make([]byte, samples*2), Format: testFormat}
}

func TestEnqueueBackToBack(t *testing.T) {
	t.Parallel()
	out := mock.NewOutput(testFormat)
	s := New(out)

	first, err := s.Enqueue(buf(t, 100*time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	second, err := s.Enqueue(buf(t, 250*time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if first != 0 {
		t.Errorf("first start = %v, want 0", first)
	}
	if second != 100*time.Millisecond {
		t.Errorf("second start = %v, want 100ms", second)
	}
	if got := s.Cursor(); got != 350*time.Millisecond {
		t.Errorf("Cursor() = %v, want 350ms", got)
	}
	if len(out.Scheduled) != 2 {
		t.Fatalf("scheduled %d buffers, want 2", len(out.Scheduled))
	}
	if out.Scheduled[1].StartAt != 100*time.Millisecond {
		t.Errorf("device saw start %v, want 100ms", out.Scheduled[1].StartAt)
	}
}

func TestEnqueueClampsLateCursor(t *testing.T) {
	t.Parallel()
	out := mock.NewOutput(testFormat)
	s := New(out)

	if _, err := s.Enqueue(buf(t, 100*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// The device clock runs past the end of everything scheduled so far.
	out.Clock.Set(500 * time.Millisecond)

	start, err := s.Enqueue(buf(t, 100*time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if start != 500*time.Millisecond {
		t.Errorf("late buffer start = %v, want 500ms (clamped to now)", start)
	}
	if got := s.Cursor(); got != 600*time.Millisecond {
		t.Errorf("Cursor() = %v, want 600ms", got)
	}
}

func TestStopAllStopsAndResets(t *testing.T) {
	t.Parallel()
	out := mock.NewOutput(testFormat)
	s := New(out)

	for range 3 {
		if _, err := s.Enqueue(buf(t, 100*time.Millisecond)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if got := s.InFlight(); got != 3 {
		t.Fatalf("InFlight() = %d, want 3", got)
	}

	s.StopAll()

	for i, p := range out.Scheduled {
		if !p.Stopped() {
			t.Errorf("playback %d not stopped", i)
		}
	}
	if got := s.InFlight(); got != 0 {
		t.Errorf("InFlight() after StopAll = %d, want 0", got)
	}
	if got := s.Cursor(); got != 0 {
		t.Errorf("Cursor() after StopAll = %v, want 0", got)
	}
}

func TestEnqueueAfterStopAllPlaysNow(t *testing.T) {
	t.Parallel()
	out := mock.NewOutput(testFormat)
	s := New(out)

	if _, err := s.Enqueue(buf(t, time.Second)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	out.Clock.Set(300 * time.Millisecond)
	s.StopAll()

	start, err := s.Enqueue(buf(t, 100*time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if start != 300*time.Millisecond {
		t.Errorf("post-interrupt start = %v, want 300ms (device now)", start)
	}
}

func TestNaturalFinishRemovesFromRegistry(t *testing.T) {
	t.Parallel()
	out := mock.NewOutput(testFormat)
	s := New(out)

	if _, err := s.Enqueue(buf(t, 100*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	out.Scheduled[0].Finish()

	deadline := time.After(time.Second)
	for s.InFlight() != 0 {
		select {
		case <-deadline:
			t.Fatal("playback never reaped after finishing")
		case <-time.After(time.Millisecond):
		}
	}

	// The cursor keeps advancing monotonically; natural finish never
	// rewinds it.
	if got := s.Cursor(); got != 100*time.Millisecond {
		t.Errorf("Cursor() = %v, want 100ms", got)
	}
}

func TestEnqueueScheduleError(t *testing.T) {
	t.Parallel()
	out := mock.NewOutput(testFormat)
	out.ScheduleError = errFake
	s := New(out)

	if _, err := s.Enqueue(buf(t, 100*time.Millisecond)); err == nil {
		t.Fatal("Enqueue() error = nil, want device error")
	}
	if got := s.Cursor(); got != 0 {
		t.Errorf("Cursor() after failed Enqueue = %v, want 0", got)
	}
	if got := s.InFlight(); got != 0 {
		t.Errorf("InFlight() after failed Enqueue = %d, want 0", got)
	}
}

var errFake = errors.New("schedule failed")
