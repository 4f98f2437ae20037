package live

// Event is the closed union of everything a live session can emit
// downstream. The unexported marker method keeps the set of event types
// fixed to this package, so a switch over events is exhaustive.
type Event interface {
	liveEvent()
}

// AudioChunkEvent carries one chunk of synthesised model speech.
type AudioChunkEvent struct {
	// Data is the raw audio payload, already transport-decoded.
	Data []byte

	// MIMEType describes the payload, e.g. "audio/pcm;rate=24000".
	// Empty means the provider's documented default output format.
	MIMEType string
}

// InputTranscriptEvent carries a recognised fragment of the user's speech.
// Fragments concatenate verbatim; the provider controls spacing.
type InputTranscriptEvent struct {
	Text string
}

// OutputTranscriptEvent carries a fragment of the model's spoken response as
// text. Fragments concatenate verbatim.
type OutputTranscriptEvent struct {
	Text string
}

// TurnCompleteEvent marks the end of one model turn. Transcript fragments
// received since the previous turn boundary belong to the finished turn.
type TurnCompleteEvent struct{}

// InterruptedEvent signals that the user barged in and the provider stopped
// generating. Audio already delivered for the cut-off turn should be
// discarded by the consumer.
type InterruptedEvent struct{}

// ClosedEvent signals that the remote side ended the session cleanly.
// It is the last event before the Events channel closes.
type ClosedEvent struct{}

// ErrorEvent carries a fatal session error reported in-band by the provider.
type ErrorEvent struct {
	Err error
}

func (AudioChunkEvent) liveEvent()       {}
func (InputTranscriptEvent) liveEvent()  {}
func (OutputTranscriptEvent) liveEvent() {}
func (TurnCompleteEvent) liveEvent()     {}
func (InterruptedEvent) liveEvent()      {}
func (ClosedEvent) liveEvent()           {}
func (ErrorEvent) liveEvent()            {}
