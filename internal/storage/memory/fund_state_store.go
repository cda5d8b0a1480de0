package memory

import (
	"context"
	"sync"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// FundStateStore is an in-memory implementation of storage.FundStateStore.
type FundStateStore struct {
	mu   sync.RWMutex
	data map[string]domain.FundState // keyed by fund_id
}

// NewFundStateStore creates a new in-memory fund state store.
func NewFundStateStore() *FundStateStore {
	return &FundStateStore{
		data: make(map[string]domain.FundState),
	}
}

// Compile-time interface check.
var _ storage.FundStateStore = (*FundStateStore)(nil)

// Save upserts the state for s.FundID.
func (s *FundStateStore) Save(_ context.Context, st *domain.FundState) error {
	if st == nil || st.FundID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[st.FundID] = st.Clone()
	return nil
}

// Load retrieves the state of a fund.
func (s *FundStateStore) Load(_ context.Context, fundID string) (*domain.FundState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[fundID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := st.Clone()
	return &c, nil
}
