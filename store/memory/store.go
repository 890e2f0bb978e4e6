// Package memory provides an in-memory Store. Data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store keeps purchases in maps guarded by a RWMutex.
type Store struct {
	mu sync.RWMutex

	purchases map[int64]*purchase.Purchase
	bySubject map[uuid.UUID][]int64
	nextID    int64
	closed    bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		purchases: make(map[int64]*purchase.Purchase),
		bySubject: make(map[uuid.UUID][]int64),
	}
}

// Save implements purchase.Store.
func (s *Store) Save(_ context.Context, p *purchase.Purchase) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return purchase.Unsaved, warrant.ErrStoreClosed
	}

	s.nextID++
	p.ID = s.nextID
	s.purchases[p.ID] = p.Clone()
	s.bySubject[p.SubjectID] = append(s.bySubject[p.SubjectID], p.ID)
	return p.ID, nil
}

// FindBySubject implements purchase.Store.
func (s *Store) FindBySubject(_ context.Context, subject uuid.UUID) ([]*purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, warrant.ErrStoreClosed
	}

	ids := s.bySubject[subject]
	result := make([]*purchase.Purchase, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.purchases[id].Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// FindByID implements purchase.Store.
func (s *Store) FindByID(_ context.Context, id int64) (*purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, warrant.ErrStoreClosed
	}

	if p, ok := s.purchases[id]; ok {
		return p.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %d", warrant.ErrPurchaseNotFound, id)
}

// Deactivate implements purchase.Store.
func (s *Store) Deactivate(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, warrant.ErrStoreClosed
	}

	p, ok := s.purchases[id]
	if !ok {
		return false, nil
	}
	p.Active = false
	return true, nil
}

// UpdateRemainingUses implements purchase.Store.
func (s *Store) UpdateRemainingUses(_ context.Context, id int64, remaining int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, warrant.ErrStoreClosed
	}

	p, ok := s.purchases[id]
	if !ok {
		return false, nil
	}
	p.RemainingUses = remaining
	return true, nil
}

// Migrate is a no-op.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return warrant.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent calls fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored purchases.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.purchases)
}
