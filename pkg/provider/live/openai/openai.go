// Package openai implements the live.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Microphone audio is transmitted as base64-encoded PCM16 chunks via
// input_audio_buffer.append; model audio, transcript deltas, turn boundaries,
// and barge-in notices arrive as typed server events and are surfaced through
// the live.Event stream.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/echoline-ai/echoline/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// The Realtime API speaks pcm16 at 24 kHz in both directions.
	sampleRate = 24000

	sessionAckTimeout = 10 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputSampleRate:  sampleRate,
		OutputSampleRate: sampleRate,
		Voices:           []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect establishes a new OpenAI Realtime session. It blocks until the
// server announces the session with session.created, then configures it with
// session.update, so the returned handle is ready to accept audio.
//
// The Realtime protocol fixes pcm16 audio at 24 kHz in both directions, so a
// SessionConfig asking for any other input rate is rejected up front rather
// than streaming mis-tagged audio.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	if cfg.InputSampleRate != 0 && cfg.InputSampleRate != sampleRate {
		return nil, fmt.Errorf("openai: input sample rate %d is not supported (protocol fixes %d): %w",
			cfg.InputSampleRate, sampleRate, live.ErrConnect)
	}

	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %v: %w", err, live.ErrConnect)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan live.Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.awaitSessionCreated(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session not created")
		return nil, fmt.Errorf("openai: %v: %w", err, live.ErrConnect)
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %v: %w", err, live.ErrConnect)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParam `json:"input_audio_transcription,omitempty"`
}

type transcriptionParam struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan live.Event

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// awaitSessionCreated blocks until the server announces the new session.
func (s *session) awaitSessionCreated(ctx context.Context) error {
	ackCtx, cancel := context.WithTimeout(ctx, sessionAckTimeout)
	defer cancel()

	for {
		_, data, err := s.conn.Read(ackCtx)
		if err != nil {
			return fmt.Errorf("session ack: %v", err)
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "session.created":
			return nil
		case "error":
			msg := "unknown error"
			if evt.Error != nil && evt.Error.Message != "" {
				msg = evt.Error.Message
			}
			return fmt.Errorf("session rejected: %s", msg)
		}
	}
}

// sendSessionUpdate sends a session.update event to configure voice,
// instructions, audio formats, and input transcription.
func (s *session) sendSessionUpdate(cfg live.SessionConfig) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		// User speech is transcribed out of band; without this the server
		// never emits input transcription events.
		InputAudioTranscription: &transcriptionParam{Model: "whisper-1"},
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	if cfg.Instructions != "" {
		params.Instructions = cfg.Instructions
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.emit(live.ClosedEvent{})
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		s.emit(live.AudioChunkEvent{
			Data:     audioData,
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.emit(live.OutputTranscriptEvent{Text: evt.Delta})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(live.InputTranscriptEvent{Text: evt.Transcript})

	case "input_audio_buffer.speech_started":
		// Server-side VAD detected the user talking over the model.
		s.emit(live.InterruptedEvent{})

	case "response.done":
		s.emit(live.TurnCompleteEvent{})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(live.ErrorEvent{Err: fmt.Errorf("openai: %s", msg)})
	}
}

// emit delivers one event to the consumer, blocking until it is taken or the
// session ends.
func (s *session) emit(e live.Event) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendFrame delivers a raw PCM16 audio chunk to the model.
func (s *session) SendFrame(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Events returns the channel on which downstream events arrive.
func (s *session) Events() <-chan live.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel() // unblocks receiveLoop
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
