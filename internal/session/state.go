package session

// ConnectionState is the lifecycle state of a voice session.
type ConnectionState int

const (
	// StateIdle means the session has never been started.
	StateIdle ConnectionState = iota

	// StateConnecting means the provider connection is being established.
	StateConnecting

	// StateConnected means audio is flowing in both directions.
	StateConnected

	// StateClosing means an orderly teardown is in progress.
	StateClosing

	// StateClosed means the session ended cleanly and can be restarted.
	StateClosed

	// StateError means the session ended with a failure. The error is
	// available via [Session.LastError] and the session can be restarted.
	StateError
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
