// Package transcript turns the fragment stream of a live conversation into an
// ordered, turn-segmented log.
//
// During a turn the provider emits partial text for both sides of the
// conversation. An [Accumulator] buffers those fragments; when the turn
// completes it flushes them into whole [Entry] values, user speech first.
// Entries can be appended to a [Store] for later retrieval.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the conversation produced an entry.
type Role string

const (
	// RoleUser marks recognised user speech.
	RoleUser Role = "user"

	// RoleModel marks the model's spoken response.
	RoleModel Role = "model"
)

// Entry is one finished utterance in the conversation log.
type Entry struct {
	// ID uniquely identifies the entry.
	ID uuid.UUID

	// Role is who spoke.
	Role Role

	// Text is the full utterance, assembled from the turn's fragments.
	Text string

	// CreatedAt is when the turn completed.
	CreatedAt time.Time
}

// NewEntry returns an Entry with a fresh ID stamped at now.
func NewEntry(role Role, text string, now time.Time) Entry {
	return Entry{
		ID:        uuid.New(),
		Role:      role,
		Text:      text,
		CreatedAt: now,
	}
}
