// Package mock provides in-memory mock implementations of the [device.CaptureDevice],
// [device.OutputDevice], and related interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	out := mock.NewOutput(audio.Format{SampleRate: 24000, Channels: 1})
//	cap := &mock.CaptureDevice{}
//	stream, err := cap.Start(ctx, device.CaptureConfig{SampleRate: 16000, Channels: 1, FrameSize: 4096})
//	cap.Stream.Emit([]float32{0.5, -0.5})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/echoline-ai/echoline/pkg/audio"
	"github.com/echoline-ai/echoline/pkg/audio/device"
)

var _ device.CaptureDevice = (*CaptureDevice)(nil)
var _ device.CaptureStream = (*CaptureStream)(nil)
var _ device.OutputOpener = (*OutputOpener)(nil)
var _ device.OutputDevice = (*Output)(nil)
var _ device.PlaybackHandle = (*Playback)(nil)
var _ device.Clock = (*ManualClock)(nil)

// ─── ManualClock ──────────────────────────────────────────────────────────────

// ManualClock is a [device.Clock] whose time only moves when the test calls
// [ManualClock.Advance] or [ManualClock.Set].
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Set moves the clock to an absolute time.
func (c *ManualClock) Set(d time.Duration) {
	c.mu.Lock()
	c.now = d
	c.mu.Unlock()
}

// ─── CaptureDevice ────────────────────────────────────────────────────────────

// CaptureDevice is a mock implementation of [device.CaptureDevice].
// Set the exported Result fields before use; inspect the Call* fields after.
type CaptureDevice struct {
	mu sync.Mutex

	// StartError is returned by [CaptureDevice.Start]. When non-nil no
	// stream is created.
	StartError error

	// Stream is the stream handed out by Start. Created on first Start if
	// left nil; tests may pre-populate it to control buffering.
	Stream *CaptureStream

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// RecordedConfigs holds the configs passed to Start, in order.
	RecordedConfigs []device.CaptureConfig
}

// Start returns the mock stream, creating one if none was set.
func (d *CaptureDevice) Start(_ context.Context, cfg device.CaptureConfig) (device.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	d.RecordedConfigs = append(d.RecordedConfigs, cfg)
	if d.StartError != nil {
		return nil, d.StartError
	}
	if d.Stream == nil {
		d.Stream = NewCaptureStream(16)
	}
	return d.Stream, nil
}

// CaptureStream is a mock implementation of [device.CaptureStream].
// Tests push frames in with [CaptureStream.Emit] and tear it down with
// [CaptureStream.Fail] or Stop.
type CaptureStream struct {
	mu sync.Mutex

	frames chan []float32
	err    error
	closed bool

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewCaptureStream returns a stream whose frame channel buffers n frames.
func NewCaptureStream(n int) *CaptureStream {
	return &CaptureStream{frames: make(chan []float32, n)}
}

// Emit delivers one frame to the stream's consumer. It reports false when the
// stream is already stopped or the buffer is full.
func (s *CaptureStream) Emit(frame []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// Fail stops the stream with the given error, as if the device died.
func (s *CaptureStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}

// Frames returns the channel frames are delivered on.
func (s *CaptureStream) Frames() <-chan []float32 { return s.frames }

// Err returns the error set via [CaptureStream.Fail], if any.
func (s *CaptureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop closes the frame channel. Safe to call more than once.
func (s *CaptureStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// OutputOpener is a mock implementation of [device.OutputOpener].
type OutputOpener struct {
	mu sync.Mutex

	// OpenError is returned by [OutputOpener.Open].
	OpenError error

	// Output is handed out by Open. Created on first Open if left nil.
	Output *Output

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open returns the mock output, creating one at the requested format if none
// was set.
func (o *OutputOpener) Open(f audio.Format) (device.OutputDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountOpen++
	if o.OpenError != nil {
		return nil, o.OpenError
	}
	if o.Output == nil {
		o.Output = NewOutput(f)
	}
	return o.Output, nil
}

// Output is a mock implementation of [device.OutputDevice]. Scheduled buffers
// never play on their own; the test finishes them via [Playback.Finish] and
// drives time via the embedded [ManualClock].
type Output struct {
	// Clock is the manual clock backing Now. Never nil.
	Clock *ManualClock

	mu sync.Mutex

	format audio.Format

	// ScheduleError is returned by [Output.ScheduleAt].
	ScheduleError error

	// Scheduled holds every playback created by ScheduleAt, in order.
	Scheduled []*Playback

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewOutput returns a mock output at the given format with a fresh
// [ManualClock] at zero.
func NewOutput(f audio.Format) *Output {
	return &Output{Clock: &ManualClock{}, format: f}
}

// Now returns the manual clock's time.
func (o *Output) Now() time.Duration { return o.Clock.Now() }

// Format returns the format the output was created with.
func (o *Output) Format() audio.Format { return o.format }

// ScheduleAt records the buffer and start time and returns a handle the test
// completes manually.
func (o *Output) ScheduleAt(buf audio.Buffer, at time.Duration) (device.PlaybackHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleError != nil {
		return nil, o.ScheduleError
	}
	p := &Playback{Buffer: buf, StartAt: at, done: make(chan struct{})}
	o.Scheduled = append(o.Scheduled, p)
	return p, nil
}

// Playbacks returns a snapshot of everything scheduled so far. Use this
// instead of reading Scheduled while the device is in use.
func (o *Output) Playbacks() []*Playback {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Playback, len(o.Scheduled))
	copy(out, o.Scheduled)
	return out
}

// Close records the call.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return nil
}

// Playback is a mock implementation of [device.PlaybackHandle].
type Playback struct {
	// Buffer is the audio handed to ScheduleAt.
	Buffer audio.Buffer

	// StartAt is the start time requested by ScheduleAt.
	StartAt time.Duration

	done     chan struct{}
	doneOnce sync.Once

	mu sync.Mutex

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Stop records the call and closes Done, mirroring a hard stop.
func (p *Playback) Stop() {
	p.mu.Lock()
	p.CallCountStop++
	p.mu.Unlock()
	p.doneOnce.Do(func() { close(p.done) })
}

// Finish closes Done as if the buffer played out naturally.
func (p *Playback) Finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

// Stopped reports whether Stop was called at least once.
func (p *Playback) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountStop > 0
}

// Done is closed once the playback stopped or finished.
func (p *Playback) Done() <-chan struct{} { return p.done }
