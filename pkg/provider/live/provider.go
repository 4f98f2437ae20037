// Package live defines the Provider interface for real-time duplex voice
// backends.
//
// A live provider wraps a conversational service that accepts raw audio input
// and streams back synthesised audio, incremental transcripts, and turn
// boundaries over a single, stateful session. Examples include the Gemini
// Live API and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: a bidirectional channel that
// carries microphone frames upstream and a multiplexed [Event] stream
// downstream. Sessions are designed to be long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// ErrConnect indicates the session could not be established: authentication
// failure, unreachable endpoint, or a rejected setup handshake.
// Implementations wrap it so callers can match with [errors.Is].
var ErrConnect = errors.New("live: connection failed")

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model overrides the provider's default model. Empty means default.
	Model string

	// Voice selects the synthesised voice. Empty means the provider default.
	Voice string

	// Instructions is the system-level prompt applied for the whole session.
	Instructions string

	// InputSampleRate is the sample rate of the PCM frames the caller will
	// send, in Hz. Zero means the provider's documented default.
	InputSampleRate int
}

// Capabilities describes static properties of a live provider.
// The values are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// InputSampleRate is the PCM rate the provider expects upstream, in Hz.
	InputSampleRate int

	// OutputSampleRate is the PCM rate the provider emits downstream, in Hz.
	OutputSampleRate int

	// Voices lists the selectable voice names, if the provider documents any.
	Voices []string
}

// SessionHandle represents an open live session. It is an interface so that
// test code can supply mock implementations without a network connection.
//
// The session sits on the hot path of the audio pipeline, so every method
// must return quickly. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendFrame delivers one raw PCM chunk of microphone audio to the
	// provider. The chunk must be little-endian 16-bit mono at the session's
	// negotiated input rate. Returns an error if the session is closed or
	// the transport rejects the write.
	SendFrame(pcm []byte) error

	// Events returns a read-only channel carrying the multiplexed downstream
	// stream: audio chunks, transcript deltas, turn boundaries, interruption
	// notices. The channel is closed when the session ends; afterwards call
	// [SessionHandle.Err] to check whether it ended cleanly. Consumers must
	// drain this channel promptly to keep the receive loop moving.
	Events() <-chan Event

	// Err returns the error that caused the Events channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// Events channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live voice backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new live session with the given configuration
	// and blocks until the provider acknowledges the setup, so the returned
	// SessionHandle is ready to accept audio immediately. Connection
	// failures wrap [ErrConnect]. The caller owns the SessionHandle and is
	// responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}
