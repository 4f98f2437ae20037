package device

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/echoline-ai/echoline/pkg/audio"
)

// Compile-time interface assertions.
var _ OutputOpener = (*OtoOpener)(nil)
var _ OutputDevice = (*otoOutput)(nil)

// otoBufferSize is the oto mixing buffer: small enough for barge-in to cut
// audio quickly, large enough to avoid underruns.
const otoBufferSize = 100 * time.Millisecond

// OtoOpener opens speaker outputs backed by the oto library.
//
// oto permits exactly one context per process, so the opener creates it
// lazily on first Open and reuses it afterwards; "closing" an output only
// stops its players and restarts its clock. Every Open must request the same
// format.
type OtoOpener struct {
	mu     sync.Mutex
	ctx    *oto.Context
	format audio.Format
}

// Open returns an [OutputDevice] playing at the given format.
func (o *OtoOpener) Open(f audio.Format) (OutputDevice, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("device: invalid output format %+v", f)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   f.SampleRate,
			ChannelCount: f.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   otoBufferSize,
		})
		if err != nil {
			return nil, fmt.Errorf("device: init speaker: %w", err)
		}
		<-ready
		o.ctx = ctx
		o.format = f
	} else if o.format != f {
		return nil, fmt.Errorf("device: speaker already open at %s, cannot reopen at %s", o.format, f)
	}

	return &otoOutput{
		ctx:     o.ctx,
		format:  f,
		started: time.Now(),
		closed:  make(chan struct{}),
	}, nil
}

// otoOutput is one session's view of the process-wide speaker. Its clock
// starts at zero when opened.
type otoOutput struct {
	ctx    *oto.Context
	format audio.Format

	started time.Time

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	handles   []*otoHandle
}

func (d *otoOutput) Now() time.Duration { return time.Since(d.started) }

func (d *otoOutput) Format() audio.Format { return d.format }

// ScheduleAt arms a timer for the buffer's start time and hands the PCM to a
// fresh oto player when it fires.
func (d *otoOutput) ScheduleAt(buf audio.Buffer, at time.Duration) (PlaybackHandle, error) {
	select {
	case <-d.closed:
		return nil, fmt.Errorf("device: speaker output is closed")
	default:
	}
	if buf.Format != d.format {
		return nil, fmt.Errorf("device: buffer format %s does not match device %s", buf.Format, d.format)
	}

	h := &otoHandle{
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}

	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()

	go d.play(h, buf, at)
	return h, nil
}

func (d *otoOutput) play(h *otoHandle, buf audio.Buffer, at time.Duration) {
	defer close(h.done)

	delay := at - d.Now()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-h.stop:
			return
		case <-d.closed:
			return
		}
	}

	player := d.ctx.NewPlayer(bytes.NewReader(buf.PCM))
	defer player.Close()
	player.Play()

	timer := time.NewTimer(buf.Duration() + otoBufferSize)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-h.stop:
	case <-d.closed:
	}
}

// Close hard-stops every scheduled buffer. The process-wide oto context
// stays alive for the next session.
func (d *otoOutput) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })

	d.mu.Lock()
	handles := d.handles
	d.handles = nil
	d.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	return nil
}

type otoHandle struct {
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func (h *otoHandle) Stop()                 { h.stopOnce.Do(func() { close(h.stop) }) }
func (h *otoHandle) Done() <-chan struct{} { return h.done }
