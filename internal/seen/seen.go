// Package seen tracks the last observed item id per identifier.
//
// The persisted mapping is authoritative: memory is loaded from it at start
// and only changes after a write succeeds.
package seen

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"mirrorwatch/internal/storage"
	logx "mirrorwatch/pkg/logx"
)

// Backend is the slice of storage.Store this package needs.
type Backend interface {
	LoadSeen(ctx context.Context) (map[string]string, error)
	SaveSeen(ctx context.Context, seen map[string]string) error
}

type Store struct {
	backend Backend
	log     logx.Logger

	// mu serializes commits; readers take the read side.
	mu   sync.RWMutex
	data map[string]string
}

func New(backend Backend, log logx.Logger) *Store {
	return &Store{backend: backend, log: log, data: map[string]string{}}
}

// Load reads the persisted mapping. A missing or unreadable blob leaves the
// store empty and only logs; the next commit rewrites it.
func (s *Store) Load(ctx context.Context) {
	m, err := s.backend.LoadSeen(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			s.log.Warn("seen-state unreadable, starting empty", logx.Err(err))
		} else {
			s.log.Warn("seen-state load failed, starting empty", logx.Err(err))
		}
		m = map[string]string{}
	}
	if m == nil {
		m = map[string]string{}
	}

	s.mu.Lock()
	s.data = m
	s.mu.Unlock()
	s.log.Info("seen-state loaded", logx.Int("identifiers", len(m)))
}

func (s *Store) Get(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[id]
	return v, ok
}

// Commit sets id to itemID and persists the whole mapping. Memory is only
// updated when the write succeeds.
func (s *Store) Commit(ctx context.Context, id, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.data[id]; ok && cur == itemID {
		return nil
	}
	next := maps.Clone(s.data)
	next[id] = itemID
	if err := s.backend.SaveSeen(ctx, next); err != nil {
		return fmt.Errorf("persist seen-state for %s: %w", id, err)
	}
	s.data = next
	return nil
}

// Snapshot returns a copy of the mapping.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
