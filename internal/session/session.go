// Package session manages the lifecycle of one live voice conversation: it
// owns the provider connection, the microphone capture pipeline, the playback
// scheduler, and the turn-segmented transcript.
//
// A [Session] moves through the states in [ConnectionState]. Start and Close
// are idempotent with respect to state: starting a session that is already
// running is a no-op, as is closing one that never started. A session that
// ended (closed or failed) can be started again; restarting clears the
// transcript.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echoline-ai/echoline/internal/observe"
	"github.com/echoline-ai/echoline/internal/transcript"
	"github.com/echoline-ai/echoline/pkg/audio"
	"github.com/echoline-ai/echoline/pkg/audio/device"
	"github.com/echoline-ai/echoline/pkg/audio/sched"
	"github.com/echoline-ai/echoline/pkg/provider/live"
)

const (
	// defaultFrameSize is the number of samples per microphone frame.
	defaultFrameSize = 4096

	// sendQueueDepth bounds the queue between the capture pipeline and the
	// background sender. A full queue drops frames instead of blocking the
	// audio thread.
	sendQueueDepth = 32
)

// Config wires a Session to its collaborators. Provider, Capture, and Output
// are required; the rest default sensibly.
type Config struct {
	// Provider opens the duplex connection to the conversational service.
	Provider live.Provider

	// ProviderName labels metrics and logs, e.g. "gemini-live".
	ProviderName string

	// Session is passed to the provider on every connect.
	Session live.SessionConfig

	// Capture is the microphone.
	Capture device.CaptureDevice

	// Output opens the speaker.
	Output device.OutputOpener

	// Store receives finished transcript entries. Defaults to an in-memory
	// log.
	Store transcript.Store

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// CaptureFormat is the microphone format. Defaults to 16 kHz mono.
	CaptureFormat audio.Format

	// FrameSize is samples per microphone frame. Defaults to 4096.
	FrameSize int

	// OutputFormat is the speaker format. Defaults to 24 kHz mono.
	OutputFormat audio.Format
}

// resources holds everything a connected session owns. It exists only while
// the session is connected, so a nil resources pointer is the "no connection"
// state and no field needs individual nil checks.
type resources struct {
	handle    live.SessionHandle
	stream    device.CaptureStream
	out       device.OutputDevice
	sched     *sched.Scheduler
	sendQ     chan []byte
	pumps     *errgroup.Group
	startedAt time.Time
}

// Session is a single voice conversation. All methods are safe for
// concurrent use.
type Session struct {
	cfg Config
	log *slog.Logger

	meter audio.LevelMeter
	acc   transcript.Accumulator

	mu      sync.Mutex
	state   ConnectionState
	lastErr error
	res     *resources
}

// New validates cfg, applies defaults, and returns an idle Session.
func New(cfg Config) (*Session, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("session: Provider is required")
	}
	if cfg.Capture == nil {
		return nil, fmt.Errorf("session: Capture is required")
	}
	if cfg.Output == nil {
		return nil, fmt.Errorf("session: Output is required")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "unknown"
	}
	if cfg.Store == nil {
		cfg.Store = transcript.NewMemoryStore()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CaptureFormat == (audio.Format{}) {
		cfg.CaptureFormat = audio.Format{SampleRate: 16000, Channels: 1}
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = defaultFrameSize
	}
	if cfg.OutputFormat == (audio.Format{}) {
		cfg.OutputFormat = audio.Format{SampleRate: 24000, Channels: 1}
	}

	return &Session{
		cfg: cfg,
		log: cfg.Logger.With(slog.String("provider", cfg.ProviderName)),
	}, nil
}

// Start connects the session and begins streaming audio in both directions.
// It is a no-op unless the session is idle, closed, or failed. Restarting a
// closed or failed session clears the transcript first.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateClosed, StateError:
	default:
		s.mu.Unlock()
		return nil
	}
	restart := s.state != StateIdle
	s.state = StateConnecting
	s.lastErr = nil
	s.mu.Unlock()

	if restart {
		s.acc.Reset()
		if err := s.cfg.Store.Clear(ctx); err != nil {
			s.log.Warn("clearing transcript on restart failed", slog.Any("error", err))
		}
	}
	s.meter.Reset()

	// Everything slow happens outside the lock; observers see CONNECTING
	// meanwhile.
	connectStart := time.Now()
	handle, err := s.cfg.Provider.Connect(ctx, s.cfg.Session)
	if err != nil {
		return s.fail(fmt.Errorf("session: connect: %w", err))
	}
	s.cfg.Metrics.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds())

	out, err := s.cfg.Output.Open(s.cfg.OutputFormat)
	if err != nil {
		_ = handle.Close()
		return s.fail(fmt.Errorf("session: open speaker: %w", err))
	}

	stream, err := s.cfg.Capture.Start(ctx, device.CaptureConfig{
		SampleRate: s.cfg.CaptureFormat.SampleRate,
		Channels:   s.cfg.CaptureFormat.Channels,
		FrameSize:  s.cfg.FrameSize,
	})
	if err != nil {
		_ = handle.Close()
		_ = out.Close()
		return s.fail(fmt.Errorf("session: start microphone: %w", err))
	}

	res := &resources{
		handle:    handle,
		stream:    stream,
		out:       out,
		sched:     sched.New(out),
		sendQ:     make(chan []byte, sendQueueDepth),
		pumps:     &errgroup.Group{},
		startedAt: time.Now(),
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// A Close landed while we were connecting; its verdict stands. The
		// resources were never published, so release them here.
		s.mu.Unlock()
		s.log.Info("connect abandoned, session closed while connecting")
		if err := handle.Close(); err != nil {
			s.log.Warn("closing provider session failed", slog.Any("error", err))
		}
		if err := stream.Stop(); err != nil {
			s.log.Warn("stopping microphone failed", slog.Any("error", err))
		}
		if err := out.Close(); err != nil {
			s.log.Warn("closing speaker failed", slog.Any("error", err))
		}
		return nil
	}
	s.res = res
	s.state = StateConnected
	s.mu.Unlock()

	s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	s.log.Info("session connected")

	res.pumps.Go(func() error { s.captureLoop(res); return nil })
	res.pumps.Go(func() error { s.senderLoop(res); return nil })
	res.pumps.Go(func() error { s.eventLoop(res); return nil })
	return nil
}

// Close tears the session down in a fixed order and leaves it restartable.
// It is a no-op when the session is idle or already closed.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateClosed:
		s.mu.Unlock()
		return nil
	}
	res := s.res
	s.res = nil
	s.state = StateClosing
	s.mu.Unlock()

	if res != nil {
		s.teardown(ctx, res)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.log.Info("session closed")
	return nil
}

// fail records err, moves the session to StateError, and returns err. When a
// Close raced the connect phase the session is already settled; the error is
// dropped and the state left alone.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		s.log.Debug("connect failed after close", slog.Any("error", err))
		return nil
	}
	s.state = StateError
	s.lastErr = err
	s.mu.Unlock()
	s.log.Error("session failed", slog.Any("error", err))
	return err
}

// finalize ends a connected session from inside a pump: err nil means the
// remote side closed cleanly, non-nil means a channel or device failure.
// It is a no-op when Close already took ownership of the resources.
func (s *Session) finalize(err error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	res := s.res
	s.res = nil
	if err != nil {
		s.state = StateError
		s.lastErr = err
	} else {
		s.state = StateClosed
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("session failed", slog.Any("error", err))
	} else {
		s.log.Info("session closed by remote")
	}
	s.teardown(context.Background(), res)
}

// teardown releases everything a connected session owns. Every step is
// best-effort: a failing step is logged and the rest still run, in order.
// The provider connection goes first so no new events arrive, then the
// microphone, the level meter, the speaker, and finally the in-flight
// playback registry.
func (s *Session) teardown(ctx context.Context, res *resources) {
	if err := res.handle.Close(); err != nil {
		s.log.Warn("closing provider session failed", slog.Any("error", err))
	}
	if err := res.stream.Stop(); err != nil {
		s.log.Warn("stopping microphone failed", slog.Any("error", err))
	}
	s.meter.Reset()
	if err := res.out.Close(); err != nil {
		s.log.Warn("closing speaker failed", slog.Any("error", err))
	}
	res.sched.StopAll()

	_ = res.pumps.Wait()

	s.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	s.cfg.Metrics.SessionDuration.Record(ctx, time.Since(res.startedAt).Seconds())
}

// eventLoop demultiplexes the provider's downstream events until the channel
// closes or a terminal event arrives.
func (s *Session) eventLoop(res *resources) {
	ctx := context.Background()
	remoteClosed := false

	for ev := range res.handle.Events() {
		switch ev := ev.(type) {
		case live.AudioChunkEvent:
			s.handleAudioChunk(ctx, res, ev)

		case live.InputTranscriptEvent:
			s.acc.AddUser(ev.Text)

		case live.OutputTranscriptEvent:
			s.acc.AddModel(ev.Text)

		case live.TurnCompleteEvent:
			entries := s.acc.Flush(time.Now())
			if len(entries) > 0 {
				if err := s.cfg.Store.Append(ctx, entries...); err != nil {
					s.log.Warn("appending transcript failed", slog.Any("error", err))
				}
			}
			s.cfg.Metrics.RecordTurn(ctx, s.cfg.ProviderName)

		case live.InterruptedEvent:
			res.sched.StopAll()
			s.cfg.Metrics.Interruptions.Add(ctx, 1)
			s.log.Debug("playback interrupted")

		case live.ClosedEvent:
			remoteClosed = true

		case live.ErrorEvent:
			go s.finalize(fmt.Errorf("session: provider: %w", ev.Err))
			return
		}
	}

	if err := res.handle.Err(); err != nil && !remoteClosed {
		go s.finalize(fmt.Errorf("session: provider stream: %w", err))
		return
	}
	go s.finalize(nil)
}

// handleAudioChunk decodes one chunk of model speech and schedules it for
// gap-free playback. Undecodable chunks are dropped; the session continues.
func (s *Session) handleAudioChunk(ctx context.Context, res *resources, ev live.AudioChunkEvent) {
	buf, err := audio.DecodeCompressed(ev.Data, ev.MIMEType, s.cfg.OutputFormat)
	if err != nil {
		s.cfg.Metrics.DecodeErrors.Add(ctx, 1)
		s.log.Warn("dropping undecodable audio chunk",
			slog.String("mime_type", ev.MIMEType),
			slog.Any("error", err))
		return
	}
	if _, err := res.sched.Enqueue(buf); err != nil {
		s.log.Warn("scheduling audio chunk failed", slog.Any("error", err))
		return
	}
	s.cfg.Metrics.ChunksScheduled.Add(ctx, 1)
}

// State returns the current lifecycle state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error that put the session into [StateError], or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Transcript returns the conversation log so far.
func (s *Session) Transcript(ctx context.Context) ([]transcript.Entry, error) {
	return s.cfg.Store.All(ctx)
}

// Level returns the smoothed microphone input level in [0, 1].
func (s *Session) Level() float64 {
	return s.meter.Level()
}
