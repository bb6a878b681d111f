// Package cases defines the durable case record written once at the end of
// every call, and the Store interface of the case-management collaborator
// that receives it.
//
// The call pipeline only ever creates cases. Status transitions, operator
// assignment and the case browser belong to the collaborator.
package cases

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a case id does not exist.
var ErrNotFound = errors.New("cases: not found")

// Case statuses.
const (
	StatusPending    = "pending"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// UnknownPhone is stored when the caller's number is not known.
const UnknownPhone = "unknown"

// Turn is one entry of the call transcript.
type Turn struct {
	Role string    `json:"role"` // "caller" or "dispatcher"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Case is one registered call.
type Case struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	PhoneNumber string `json:"phoneNumber"`

	// Transcription is the caller's words joined into one text.
	Transcription string `json:"transcription"`
	// Transcript is the structured dialogue.
	Transcript []Turn `json:"transcript"`

	Category    string `json:"category"`
	ServiceType string `json:"serviceType"`
	Priority    string `json:"priority"`
	District    string `json:"district"`

	// AudioURL references the last archived caller utterance.
	AudioURL string `json:"audioUrl"`

	// Metadata holds the final incident record and session metadata.
	Metadata map[string]any `json:"metadata"`

	CreatedAt time.Time `json:"createdAt"`
}

// ListOptions filters [Store.List].
type ListOptions struct {
	Status   string
	Priority string
	// Limit caps the result count. Zero means no limit.
	Limit int
}

// Store is the case-storage collaborator.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Create persists c and returns it with ID and CreatedAt assigned when
	// they were empty.
	Create(ctx context.Context, c Case) (Case, error)

	// Get returns the case with id or [ErrNotFound].
	Get(ctx context.Context, id string) (Case, error)

	// List returns cases newest first.
	List(ctx context.Context, opts ListOptions) ([]Case, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
