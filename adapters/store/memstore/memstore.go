// Package memstore is a process-local core.CacheStore for tests and
// single-instance development runs.  Contents do not survive a restart.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
)

type entryKey struct {
	identity string
	rating   core.Rating
}

// Store guards both relations with a single RWMutex.
type Store struct {
	mu        sync.RWMutex
	entries   map[entryKey]core.CacheEntry
	resources map[string]core.ResourceRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		entries:   make(map[entryKey]core.CacheEntry),
		resources: make(map[string]core.ResourceRecord),
	}
}

func (s *Store) LookupEntry(_ context.Context, identity string, ceiling core.Rating) (*core.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for r := ceiling; r >= core.RatingG; r-- {
		if e, ok := s.entries[entryKey{identity, r}]; ok {
			return &e, nil
		}
	}
	return nil, apperrors.New(apperrors.CategoryDatabase, "memory.lookup_entry", apperrors.ErrNotFound)
}

func (s *Store) InsertEntry(_ context.Context, identity string, rating core.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryKey{identity, rating}
	if _, ok := s.entries[k]; ok {
		return apperrors.New(apperrors.CategoryDatabase, "memory.insert_entry",
			fmt.Errorf("%w: %s/%s", apperrors.ErrAlreadyExists, identity, rating))
	}
	s.entries[k] = core.CacheEntry{Identity: identity, Rating: rating}
	return nil
}

func (s *Store) TouchEntry(_ context.Context, identity string, rating core.Rating, at time.Time) error {
	s.update(identity, rating, func(e *core.CacheEntry) { e.LastSyncedAt = at.Unix() })
	return nil
}

func (s *Store) LinkEntry(_ context.Context, identity string, rating core.Rating, contentHash string, sizeHint int) error {
	s.update(identity, rating, func(e *core.CacheEntry) {
		e.ContentHash = contentHash
		e.ResourcePath = ""
		e.SizeHint = sizeHint
	})
	return nil
}

// update applies fn to an existing entry; missing rows are left alone, the
// same as an UPDATE matching nothing.
func (s *Store) update(identity string, rating core.Rating, fn func(*core.CacheEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryKey{identity, rating}
	e, ok := s.entries[k]
	if !ok {
		return
	}
	fn(&e)
	s.entries[k] = e
}

func (s *Store) LookupResource(_ context.Context, contentHash string) (*core.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.resources[contentHash]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDatabase, "memory.lookup_resource", apperrors.ErrNotFound)
	}
	return &rec, nil
}

func (s *Store) InsertResource(_ context.Context, rec core.ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[rec.ContentHash]; ok {
		return apperrors.New(apperrors.CategoryDatabase, "memory.insert_resource",
			fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, rec.ContentHash))
	}
	s.resources[rec.ContentHash] = rec
	return nil
}

// Len reports the number of cache entries and resource records.
func (s *Store) Len() (entries, resources int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), len(s.resources)
}

func (s *Store) Close() error { return nil }

var _ core.CacheStore = (*Store)(nil)
