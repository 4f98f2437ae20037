package transcript

import (
	"strings"
	"sync"
	"time"
)

// Accumulator buffers transcript fragments for the turn currently in
// progress, one buffer per side. It is safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	user  strings.Builder
	model strings.Builder
}

// AddUser appends a fragment of recognised user speech. Fragments
// concatenate verbatim; the provider controls spacing.
func (a *Accumulator) AddUser(text string) {
	a.mu.Lock()
	a.user.WriteString(text)
	a.mu.Unlock()
}

// AddModel appends a fragment of the model's response text.
func (a *Accumulator) AddModel(text string) {
	a.mu.Lock()
	a.model.WriteString(text)
	a.mu.Unlock()
}

// Flush closes out the current turn: both buffers are emptied and returned
// as finished entries, user speech before the model's response. Sides whose
// trimmed text is empty produce no entry, so a turn with nothing buffered
// returns a nil slice.
func (a *Accumulator) Flush(now time.Time) []Entry {
	a.mu.Lock()
	userText := strings.TrimSpace(a.user.String())
	modelText := strings.TrimSpace(a.model.String())
	a.user.Reset()
	a.model.Reset()
	a.mu.Unlock()

	var entries []Entry
	if userText != "" {
		entries = append(entries, NewEntry(RoleUser, userText, now))
	}
	if modelText != "" {
		entries = append(entries, NewEntry(RoleModel, modelText, now))
	}
	return entries
}

// Reset discards both buffers without producing entries. Used when a session
// restarts mid-turn.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.user.Reset()
	a.model.Reset()
	a.mu.Unlock()
}
