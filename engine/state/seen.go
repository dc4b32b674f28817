// Package state keeps the cross-run record of posts already reported, one
// partition per run cadence, and persists it between runs.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
)

// Store persists Seen between runs.
type Store interface {
	// Load returns the persisted state. A missing store is an empty state;
	// unparseable data is a *domain.StateCorruptError.
	Load(ctx context.Context) (*Seen, error)
	// Save replaces the persisted state atomically.
	Save(ctx context.Context, s *Seen) error
	Close() error
}

type entry struct {
	id     string
	seenAt time.Time
}

type partition struct {
	entries []entry // oldest first
	index   map[string]struct{}
	lastRun time.Time
}

func newPartition() *partition {
	return &partition{index: make(map[string]struct{})}
}

func (p *partition) add(id string, at time.Time) bool {
	if _, ok := p.index[id]; ok {
		return false
	}
	p.index[id] = struct{}{}
	p.entries = append(p.entries, entry{id: id, seenAt: at})
	return true
}

// Seen is the in-memory set of post IDs recorded per scope.
type Seen struct {
	mu     sync.RWMutex
	scopes map[domain.Scope]*partition
	now    func() time.Time
}

// NewSeen returns an empty state.
func NewSeen() *Seen {
	return &Seen{scopes: make(map[domain.Scope]*partition), now: time.Now}
}

func (s *Seen) part(scope domain.Scope) *partition {
	p, ok := s.scopes[scope]
	if !ok {
		p = newPartition()
		s.scopes[scope] = p
	}
	return p
}

// FilterNew returns the posts whose ID is not recorded for scope, in input
// order. Duplicate IDs within posts collapse to the first occurrence. Seen is
// not modified.
func (s *Seen) FilterNew(posts []domain.Post, scope domain.Scope) []domain.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.scopes[scope]
	batch := make(map[string]struct{}, len(posts))
	out := make([]domain.Post, 0, len(posts))
	for _, post := range posts {
		if _, dup := batch[post.ID]; dup {
			continue
		}
		batch[post.ID] = struct{}{}
		if p != nil {
			if _, seen := p.index[post.ID]; seen {
				continue
			}
		}
		out = append(out, post)
	}
	return out
}

// RecordSeen records the IDs of posts under scope. It only changes memory;
// call Store.Save to persist.
func (s *Seen) RecordSeen(posts []domain.Post, scope domain.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(scope)
	now := s.now().UTC()
	for _, post := range posts {
		p.add(post.ID, now)
	}
}

// Contains reports whether id is recorded for scope.
func (s *Seen) Contains(scope domain.Scope, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.scopes[scope]
	if !ok {
		return false
	}
	_, ok = p.index[id]
	return ok
}

// Len returns the number of IDs recorded for scope.
func (s *Seen) Len(scope domain.Scope) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.scopes[scope]; ok {
		return len(p.entries)
	}
	return 0
}

// IDs returns the IDs recorded for scope, oldest first.
func (s *Seen) IDs(scope domain.Scope) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.scopes[scope]
	if !ok {
		return nil
	}
	out := make([]string, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.id
	}
	return out
}

// Scopes returns the scopes that have any recorded state.
func (s *Seen) Scopes() []domain.Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Scope, 0, len(s.scopes))
	for _, sc := range []domain.Scope{domain.Daily, domain.Weekly} {
		if _, ok := s.scopes[sc]; ok {
			out = append(out, sc)
		}
	}
	for sc := range s.scopes {
		if !sc.Valid() {
			out = append(out, sc)
		}
	}
	return out
}

// LastRun returns when scope was last committed.
func (s *Seen) LastRun(scope domain.Scope) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.scopes[scope]; ok {
		return p.lastRun
	}
	return time.Time{}
}

// MarkRun stamps scope's last run time.
func (s *Seen) MarkRun(scope domain.Scope, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.part(scope).lastRun = at.UTC()
}

// Trim keeps only the max most recently recorded IDs of every scope. A
// non-positive max keeps everything.
func (s *Seen) Trim(max int) {
	if max <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.scopes {
		if len(p.entries) <= max {
			continue
		}
		drop := p.entries[:len(p.entries)-max]
		for _, e := range drop {
			delete(p.index, e.id)
		}
		p.entries = append([]entry(nil), p.entries[len(p.entries)-max:]...)
	}
}

// load adds a persisted entry; used by store backends.
func (s *Seen) load(scope domain.Scope, id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.part(scope).add(id, at)
}

// snapshot copies the entries of scope; used by store backends.
func (s *Seen) snapshot(scope domain.Scope) ([]entry, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.scopes[scope]
	if !ok {
		return nil, time.Time{}
	}
	return append([]entry(nil), p.entries...), p.lastRun
}
