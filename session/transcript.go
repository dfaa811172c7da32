package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/headlesscoder/core"
)

// ErrNotFound is returned when no transcript exists for an id.
var ErrNotFound = errors.New("session: transcript not found")

// Transcript is the persisted conversation of one thread.
type Transcript struct {
	ID        string               `json:"id"`
	Provider  core.CoderType       `json:"provider"`
	Messages  []core.PromptMessage `json:"messages"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// NewTranscript creates an empty transcript with a fresh id.
func NewTranscript(provider core.CoderType) *Transcript {
	now := time.Now().UTC()
	return &Transcript{ID: NewID(), Provider: provider, CreatedAt: now, UpdatedAt: now}
}

// Clone returns a deep copy.
func (t *Transcript) Clone() *Transcript {
	c := *t
	c.Messages = append([]core.PromptMessage(nil), t.Messages...)
	return &c
}

// Prompt returns the transcript as a prompt, oldest message first.
func (t *Transcript) Prompt() core.Prompt { return core.Prompt(t.Messages) }

// Store persists transcripts. Implementations are safe for concurrent use.
type Store interface {
	// Get returns a copy of the transcript or ErrNotFound.
	Get(ctx context.Context, id string) (*Transcript, error)
	// Save creates or replaces the transcript.
	Save(ctx context.Context, t *Transcript) error
	// Append adds messages to an existing transcript.
	Append(ctx context.Context, id string, msgs ...core.PromptMessage) error
	// Delete removes the transcript. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// List returns the stored ids in sorted order.
	List(ctx context.Context) ([]string, error)
}

// NewID returns a new transcript id.
func NewID() string { return uuid.NewString() }

// ValidID reports whether id has the shape produced by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
