// Package mock provides in-memory mock implementations of the [live.Provider]
// and [live.SessionHandle] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{ConnectResult: sess}
//	handle, err := p.Connect(ctx, live.SessionConfig{})
//	sess.Emit(live.TurnCompleteEvent{})
package mock

import (
	"context"
	"sync"

	"github.com/echoline-ai/echoline/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*Session)(nil)

// Provider is a mock implementation of [live.Provider].
// Set the exported Result fields before use; inspect the Call* fields after.
type Provider struct {
	mu sync.Mutex

	// ConnectResult is returned by [Provider.Connect]. Created on first
	// Connect if left nil.
	ConnectResult *Session

	// ConnectError is returned by [Provider.Connect]. When non-nil no
	// session is handed out.
	ConnectError error

	// CapabilitiesResult is returned by [Provider.Capabilities].
	CapabilitiesResult live.Capabilities

	// ConnectGate, when set, blocks Connect until the channel is closed.
	// Lets tests hold a connect open while exercising concurrent calls.
	ConnectGate chan struct{}

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int

	// RecordedConfigs holds the configs passed to Connect, in order.
	RecordedConfigs []live.SessionConfig
}

// Connect returns the mock session, creating one if none was set.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	gate := p.ConnectGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountConnect++
	p.RecordedConfigs = append(p.RecordedConfigs, cfg)
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.ConnectResult == nil {
		p.ConnectResult = NewSession()
	}
	return p.ConnectResult, nil
}

// Capabilities returns the configured result.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CapabilitiesResult
}

// Session is a mock implementation of [live.SessionHandle]. Tests script the
// downstream side with [Session.Emit] and [Session.End], and inspect sent
// frames afterwards.
type Session struct {
	mu sync.Mutex

	events chan live.Event
	ended  bool

	// SendFrameError is returned by [Session.SendFrame].
	SendFrameError error

	// ErrResult is returned by [Session.Err] once the session has ended.
	ErrResult error

	// SentFrames holds every frame passed to SendFrame, in order.
	SentFrames [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewSession returns a session whose events channel buffers 64 events.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Emit delivers one scripted event to the consumer. It reports false when
// the session already ended or the buffer is full.
func (s *Session) Emit(e live.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

// End closes the events channel with the given terminal error (nil means the
// session ended cleanly). Safe to call more than once.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if err != nil {
		s.ErrResult = err
	}
	close(s.events)
}

// SendFrame records the frame.
func (s *Session) SendFrame(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendFrameError != nil {
		return s.SendFrameError
	}
	frame := make([]byte, len(pcm))
	copy(frame, pcm)
	s.SentFrames = append(s.SentFrames, frame)
	return nil
}

// Events returns the scripted event channel.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err returns the configured terminal error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// Close records the call and ends the session cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	alreadyEnded := s.ended
	s.ended = true
	s.mu.Unlock()
	if !alreadyEnded {
		close(s.events)
	}
	return nil
}

// FrameCount returns how many frames SendFrame accepted.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentFrames)
}
