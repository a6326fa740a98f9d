// Package local implements the Local Store (C1): an in-process,
// mutex-guarded cache fronting the Remote and Durable tiers, with
// per-entry TTL eviction (spec §4.1, default 3600s).
package local

import (
	"context"
	"sync"
	"time"

	"magick/internal/core/flag"
)

const defaultTTL = 3600 * time.Second

type entry struct {
	flag      *flag.Flag
	expiresAt time.Time
}

// Store is a process-local, lock-protected cache of Flags. It never talks
// to Remote or Durable itself; the Registry (C5) is responsible for
// populating it on miss and invalidating it on change notification.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
}

// New constructs a Store with the given TTL; a ttl of 0 uses the spec
// default of one hour.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{entries: make(map[string]entry), ttl: ttl}
}

// Get returns the cached flag if present and unexpired.
func (s *Store) Get(_ context.Context, name string) (*flag.Flag, bool) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.flag, true
}

// Set inserts or refreshes a flag's cache entry, resetting its TTL.
func (s *Store) Set(_ context.Context, f *flag.Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[f.Name] = entry{flag: f, expiresAt: time.Now().Add(s.ttl)}
}

// Invalidate drops a single cached entry, used when a pub/sub invalidation
// message names a specific flag.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Reset drops the entire cache, used on a broadcast/reload invalidation.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
}

// List returns every unexpired cached flag; it does not imply a complete
// view of the durable set, only of whatever's currently warm locally.
func (s *Store) List(_ context.Context) []*flag.Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	out := make([]*flag.Flag, 0, len(s.entries))
	for _, e := range s.entries {
		if now.Before(e.expiresAt) {
			out = append(out, e.flag)
		}
	}
	return out
}

// EvictExpired sweeps entries past their TTL. Get and List skip expired
// entries but do not remove them; this method, Invalidate, and Reset are
// the only ways an entry leaves the map, and nothing in this module calls
// EvictExpired on a schedule.
func (s *Store) EvictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for name, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, name)
		}
	}
}
