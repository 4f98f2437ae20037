package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Compile-time interface assertions.
var _ CaptureDevice = (*MalgoCapture)(nil)
var _ CaptureStream = (*malgoStream)(nil)

// MalgoCapture is a [CaptureDevice] backed by the miniaudio library via
// malgo. One MalgoCapture owns one malgo context and can open successive
// capture streams (one at a time is typical).
type MalgoCapture struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoCapture initialises the underlying audio context.
// Call [MalgoCapture.Close] when the process shuts down.
func NewMalgoCapture() (*MalgoCapture, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}
	return &MalgoCapture{ctx: mctx}, nil
}

// Start opens the default capture device and begins delivering fixed-size
// float frames.
func (c *MalgoCapture) Start(_ context.Context, cfg CaptureConfig) (CaptureStream, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("device: invalid capture config %+v", cfg)
	}

	c.mu.Lock()
	mctx := c.ctx
	c.mu.Unlock()
	if mctx == nil {
		return nil, fmt.Errorf("device: capture context is closed")
	}

	s := &malgoStream{
		frames:    make(chan []float32, 8),
		frameSize: cfg.FrameSize * cfg.Channels,
		stopped:   make(chan struct{}),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.push(input)
		},
		Stop: func() {
			s.fail(fmt.Errorf("device: capture stream ended"))
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}
	s.device = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return s, nil
}

// Close releases the audio context. Any open streams must be stopped first.
func (c *MalgoCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	return err
}

// malgoStream regroups the device's period-sized callbacks into exactly
// frameSize-sample buffers.
type malgoStream struct {
	device *malgo.Device

	frames    chan []float32
	frameSize int

	mu         sync.Mutex
	pending    []float32
	err        error
	closed     bool
	stopped    chan struct{}
	uninitOnce sync.Once
}

func (s *malgoStream) Frames() <-chan []float32 { return s.frames }

func (s *malgoStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// push accumulates raw f32 bytes from the device callback and emits
// full frames. Runs on the audio thread: it must never block, so full
// consumers lose frames rather than stalling capture.
func (s *malgoStream) push(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for i := 0; i+4 <= len(raw); i += 4 {
		s.pending = append(s.pending, math.Float32frombits(binary.LittleEndian.Uint32(raw[i:])))
	}

	for len(s.pending) >= s.frameSize {
		frame := make([]float32, s.frameSize)
		copy(frame, s.pending[:s.frameSize])
		s.pending = s.pending[s.frameSize:]
		select {
		case s.frames <- frame:
		default:
		}
	}
}

// fail records a device-side stop that was not requested locally.
func (s *malgoStream) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()

	close(s.stopped)
	close(s.frames)
}

func (s *malgoStream) Stop() error {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	if !alreadyClosed {
		close(s.stopped)
	}

	// Release the device handle even when the stream already failed, so a
	// device-side stop does not leak the handle.
	s.uninitOnce.Do(func() {
		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
		}
	})

	if !alreadyClosed {
		close(s.frames)
	}
	return nil
}
