// Package sched schedules decoded audio buffers for gap-free playback on an
// output device.
//
// The scheduler keeps a single monotone cursor: the next free start time on
// the device timeline. Each enqueued buffer starts at the cursor (clamped to
// the device clock so a late arrival plays immediately instead of in the
// past) and advances the cursor by its own duration, so consecutive buffers
// play back to back with no gaps. [Scheduler.StopAll] cuts every in-flight
// buffer at once, which is how barge-in interrupts model speech mid-turn.
package sched

import (
	"sync"
	"time"

	"github.com/echoline-ai/echoline/pkg/audio"
	"github.com/echoline-ai/echoline/pkg/audio/device"
)

// Scheduler sequences buffers onto one [device.OutputDevice].
// It is safe for concurrent use.
type Scheduler struct {
	out device.OutputDevice

	mu       sync.Mutex
	cursor   time.Duration
	nextSlot uint64
	inflight map[uint64]device.PlaybackHandle
}

// New returns a scheduler writing to out with its cursor at zero.
func New(out device.OutputDevice) *Scheduler {
	return &Scheduler{
		out:      out,
		inflight: make(map[uint64]device.PlaybackHandle),
	}
}

// Enqueue schedules buf to start at the current cursor and advances the
// cursor by the buffer's duration. A cursor that has fallen behind the
// device clock is first pulled up to now.
func (s *Scheduler) Enqueue(buf audio.Buffer) (time.Duration, error) {
	s.mu.Lock()

	if now := s.out.Now(); s.cursor < now {
		s.cursor = now
	}
	start := s.cursor

	handle, err := s.out.ScheduleAt(buf, start)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	s.cursor = start + buf.Duration()
	slot := s.nextSlot
	s.nextSlot++
	s.inflight[slot] = handle
	s.mu.Unlock()

	go s.reap(slot, handle)
	return start, nil
}

// reap drops the handle from the registry once its playback ends. The slot is
// only deleted if it still maps to this handle, so a StopAll that already
// swept the registry is left alone.
func (s *Scheduler) reap(slot uint64, handle device.PlaybackHandle) {
	<-handle.Done()
	s.mu.Lock()
	if s.inflight[slot] == handle {
		delete(s.inflight, slot)
	}
	s.mu.Unlock()
}

// StopAll hard-stops every in-flight buffer, empties the registry, and
// resets the cursor to zero. The next Enqueue clamps to the device clock and
// plays immediately.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	handles := make([]device.PlaybackHandle, 0, len(s.inflight))
	for _, h := range s.inflight {
		handles = append(handles, h)
	}
	s.inflight = make(map[uint64]device.PlaybackHandle)
	s.cursor = 0
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

// InFlight returns the number of buffers scheduled but not yet finished.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Cursor returns the next free start time on the device timeline.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
