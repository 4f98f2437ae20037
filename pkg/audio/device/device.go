// Package device defines the interfaces for audio capture and playback
// hardware and provides the malgo (microphone) and oto (speaker)
// implementations used by the Echoline session.
//
// The session core depends only on the interfaces here; tests substitute the
// in-memory implementations from the device/mock package.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/echoline-ai/echoline/pkg/audio"
)

// ErrPermission indicates the capture device could not be opened because
// access to it was denied or it is unavailable.
var ErrPermission = errors.New("device: microphone access denied or unavailable")

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the capture channel count (1 for mono).
	Channels int

	// FrameSize is the number of samples per emitted buffer (per channel).
	// Each buffer delivered on [CaptureStream.Frames] holds exactly
	// FrameSize*Channels samples.
	FrameSize int
}

// CaptureStream is a live microphone capture session. Buffers arrive on
// Frames in capture order until Stop is called or the device fails; the
// channel is closed in either case. After the channel closes, call Err to
// distinguish a clean stop from a device failure.
type CaptureStream interface {
	// Frames yields fixed-size buffers of linear float samples in [-1, 1].
	Frames() <-chan []float32

	// Err returns the device error that ended the stream, or nil after a
	// clean Stop.
	Err() error

	// Stop ends capture and releases the device handle. Idempotent.
	Stop() error
}

// CaptureDevice opens microphone capture sessions.
type CaptureDevice interface {
	// Start begins capturing with the given config. The ctx governs the
	// lifetime of the open attempt only; the returned stream lives until
	// Stop. Open failures wrap [ErrPermission] when the device denied access.
	Start(ctx context.Context, cfg CaptureConfig) (CaptureStream, error)
}

// Clock reports monotonic playback time elapsed since the output device
// (re)started. The playback scheduler measures all start times against it.
type Clock interface {
	Now() time.Duration
}

// PlaybackHandle controls one scheduled buffer.
type PlaybackHandle interface {
	// Stop cancels the buffer immediately, whether it is still waiting for
	// its start time or already audible. Idempotent.
	Stop()

	// Done is closed once the buffer has finished playing naturally or has
	// been stopped.
	Done() <-chan struct{}
}

// OutputDevice plays scheduled buffers against a monotonic clock.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	Clock

	// Format returns the PCM format the device consumes.
	Format() audio.Format

	// ScheduleAt queues buf to begin playing when the clock reaches at.
	// Scheduling in the past plays immediately.
	ScheduleAt(buf audio.Buffer, at time.Duration) (PlaybackHandle, error)

	// Close stops all scheduled playback and releases the device. Idempotent.
	Close() error
}

// OutputOpener opens output devices. The session opens one per conversation
// and closes it during teardown.
type OutputOpener interface {
	Open(f audio.Format) (OutputDevice, error)
}
