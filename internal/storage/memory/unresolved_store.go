package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// UnresolvedStore is an in-memory implementation of storage.UnresolvedStore.
type UnresolvedStore struct {
	mu   sync.RWMutex
	data map[string]*domain.UnresolvedSettlement // keyed by idempotency_key
}

// NewUnresolvedStore creates a new in-memory unresolved settlement store.
func NewUnresolvedStore() *UnresolvedStore {
	return &UnresolvedStore{
		data: make(map[string]*domain.UnresolvedSettlement),
	}
}

// Compile-time interface check.
var _ storage.UnresolvedStore = (*UnresolvedStore)(nil)

// Insert adds a record. Returns ErrDuplicateKey if idempotency_key exists.
func (s *UnresolvedStore) Insert(_ context.Context, u *domain.UnresolvedSettlement) error {
	if u == nil || u.IdempotencyKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[u.IdempotencyKey]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *u
	s.data[u.IdempotencyKey] = &copy
	return nil
}

// ListOpen retrieves records not yet resolved, ordered by order_id ASC.
func (s *UnresolvedStore) ListOpen(_ context.Context) ([]*domain.UnresolvedSettlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.UnresolvedSettlement
	for _, u := range s.data {
		if u.ResolvedAt == nil {
			copy := *u
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OrderID < result[j].OrderID
	})
	return result, nil
}

// Resolve closes a record.
func (s *UnresolvedStore) Resolve(_ context.Context, key, resolution, reference string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data[key]
	if !ok || u.ResolvedAt != nil {
		return storage.ErrNotFound
	}
	t := at
	u.ResolvedAt = &t
	u.Resolution = resolution
	u.Reference = reference
	return nil
}
