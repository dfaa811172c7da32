package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/logging"
)

const fileExt = ".jsonl"

// record is one line of a transcript file. The first line of a file is a
// "meta" record; every following line is a "message" record.
type record struct {
	Kind     string         `json:"kind"`
	ID       string         `json:"id,omitempty"`
	Provider core.CoderType `json:"provider,omitempty"`
	Role     core.Role      `json:"role,omitempty"`
	Content  string         `json:"content,omitempty"`
	TS       time.Time      `json:"ts"`
}

// FileStore keeps one append-only JSONL file per transcript in a directory.
type FileStore struct {
	dir    string
	logger logging.Logger
	mu     sync.Mutex
}

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	Logger logging.Logger
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, optFns ...func(o *FileStoreOptions)) (*FileStore, error) {
	opts := FileStoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create store dir: %w", err)
	}

	return &FileStore{dir: dir, logger: logging.OrNop(opts.Logger)}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("session: invalid transcript id %q", id)
	}
	return filepath.Join(s.dir, id+fileExt), nil
}

// Get reads the transcript file. Malformed lines are logged and skipped.
func (s *FileStore) Get(_ context.Context, id string) (*Transcript, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(p)
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: read transcript: %w", err)
	}

	t := &Transcript{ID: id}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024) // up to 10 MB per line
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("Skipping malformed transcript line", "id", id, "line", lineNo, "error", err)
			continue
		}
		switch rec.Kind {
		case "meta":
			t.Provider = rec.Provider
			t.CreatedAt = rec.TS
			t.UpdatedAt = rec.TS
		case "message":
			t.Messages = append(t.Messages, core.PromptMessage{Role: rec.Role, Content: rec.Content})
			t.UpdatedAt = rec.TS
		default:
			s.logger.Warn("Unknown transcript record", "id", id, "kind", rec.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return t, fmt.Errorf("session: reading JSONL: %w", err)
	}

	return t, nil
}

// Save rewrites the transcript file atomically.
func (s *FileStore) Save(_ context.Context, t *Transcript) error {
	p, err := s.path(t.ID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if err := enc.Encode(record{Kind: "meta", ID: t.ID, Provider: t.Provider, TS: created}); err != nil {
		return err
	}
	for _, m := range t.Messages {
		if err := enc.Encode(record{Kind: "message", Role: m.Role, Content: m.Content, TS: t.UpdatedAt}); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("session: write transcript: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("session: commit transcript: %w", err)
	}
	return nil
}

// Append adds message records to an existing file.
func (s *FileStore) Append(_ context.Context, id string, msgs ...core.PromptMessage) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0o600)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("session: open transcript: %w", err)
	}
	defer f.Close()

	now := time.Now().UTC()
	enc := json.NewEncoder(f)
	for _, m := range msgs {
		if err := enc.Encode(record{Kind: "message", Role: m.Role, Content: m.Content, TS: now}); err != nil {
			return fmt.Errorf("session: append transcript: %w", err)
		}
	}
	return nil
}

// Delete removes the transcript file.
func (s *FileStore) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: delete transcript: %w", err)
	}
	return nil
}

// List returns the ids of all transcript files.
func (s *FileStore) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session: list transcripts: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}
