package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/headlesscoder/core"
)

// InMemoryStore is a volatile Store storing transcripts in a process local
// map. It is safe for concurrent access and best suited for tests or
// ephemeral processes. Transcripts are cloned on the way in and out to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string]*Transcript
}

// NewInMemoryStore constructs an empty in‑memory transcript store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{transcripts: make(map[string]*Transcript)}
}

// Get returns a clone of the transcript.
func (s *InMemoryStore) Get(_ context.Context, id string) (*Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.transcripts[id]; ok {
		return t.Clone(), nil
	}
	return nil, ErrNotFound
}

// Save stores a clone of t.
func (s *InMemoryStore) Save(_ context.Context, t *Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[t.ID] = t.Clone()
	return nil
}

// Append adds messages to an existing transcript.
func (s *InMemoryStore) Append(_ context.Context, id string, msgs ...core.PromptMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return ErrNotFound
	}
	t.Messages = append(t.Messages, msgs...)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes the transcript.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, id)
	return nil
}

// List returns the stored ids in sorted order.
func (s *InMemoryStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.transcripts))
	for id := range s.transcripts {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}
