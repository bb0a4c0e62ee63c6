package engine

import (
	"sync"

	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

// entry pairs an auction with its gate. The entry mutex serializes every
// state-mutating operation on that one auction; operations on different
// auctions never contend.
type entry struct {
	mu      sync.Mutex
	auction *types.Auction
}

// Store is the in-memory table of active auctions, reconstructed from
// persistence at startup and the only shared mutable state in the engine.
// Terminal auctions are evicted and become the responsibility of
// persistence and analytics.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Add registers an auction. Existing entries are left untouched so a
// duplicate load cannot clobber live state.
func (s *Store) Add(a types.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[a.ID]; ok {
		return
	}
	c := a.Clone()
	s.entries[a.ID] = &entry{auction: &c}
}

// Snapshot returns a deep copy of the auction, safe to read without the gate.
func (s *Store) Snapshot(id string) (types.Auction, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return types.Auction{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auction.Clone(), true
}

// List returns snapshots of all active auctions.
func (s *Store) List() []types.Auction {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]types.Auction, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.auction.Clone())
		e.mu.Unlock()
	}
	return out
}

// Update runs fn with a working copy of the auction while holding its
// gate. The copy replaces the stored record only when fn returns nil, so
// a failed persistence write inside fn rolls the operation back without
// touching in-memory state.
func (s *Store) Update(id string, fn func(a *types.Auction) error) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return errors.New(errors.ErrAuctionNotFound, "auction not found")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	work := e.auction.Clone()
	if err := fn(&work); err != nil {
		return err
	}
	e.auction = &work
	return nil
}

// Evict removes a terminal auction from the table.
func (s *Store) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Len reports how many auctions are currently active.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
