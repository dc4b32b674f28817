package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/pkg/fileutil"
)

type fileFormat struct {
	Scopes map[domain.Scope]fileScope `json:"scopes"`
}

type fileScope struct {
	IDs     []string  `json:"ids"`
	LastRun time.Time `json:"last_run,omitempty"`
}

// JSONStore persists Seen as a single JSON document.
type JSONStore struct {
	Path string
}

// NewJSONStore returns a store backed by the file at path.
func NewJSONStore(path string) *JSONStore { return &JSONStore{Path: path} }

// Load reads the state file. A missing file is an empty state. A file that
// does not hold a "scopes" object, or holds keys this store never writes, is
// corrupt rather than silently empty.
func (j *JSONStore) Load(ctx context.Context) (*Seen, error) {
	data, err := os.ReadFile(j.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewSeen(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	f, err := decodeState(data)
	if err != nil {
		return nil, &domain.StateCorruptError{Path: j.Path, Err: err}
	}
	s := NewSeen()
	for scope, sc := range f.Scopes {
		if !scope.Valid() {
			return nil, &domain.StateCorruptError{Path: j.Path, Err: fmt.Errorf("unknown scope %q", scope)}
		}
		for _, id := range sc.IDs {
			s.load(scope, id, time.Time{})
		}
		s.MarkRun(scope, sc.LastRun)
	}
	return s, nil
}

func decodeState(data []byte) (fileFormat, error) {
	var f fileFormat
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return f, err
	}
	if dec.More() {
		return f, errors.New("trailing data after state document")
	}
	if f.Scopes == nil {
		return f, errors.New(`missing "scopes" object`)
	}
	return f, nil
}

// Save replaces the state file atomically, so a crash never leaves a
// partially written state.
func (j *JSONStore) Save(ctx context.Context, s *Seen) error {
	f := fileFormat{Scopes: make(map[domain.Scope]fileScope)}
	for _, scope := range s.Scopes() {
		entries, lastRun := s.snapshot(scope)
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.id
		}
		f.Scopes[scope] = fileScope{IDs: ids, LastRun: lastRun}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := fileutil.WriteAtomic(j.Path, data); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Close is a no-op.
func (j *JSONStore) Close() error { return nil }
