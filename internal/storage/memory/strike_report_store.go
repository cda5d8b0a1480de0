package memory

import (
	"context"
	"sort"
	"sync"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// StrikeReportStore is an in-memory implementation of storage.StrikeReportStore.
type StrikeReportStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StrikeReport // keyed by strike_id
}

// NewStrikeReportStore creates a new in-memory strike report store.
func NewStrikeReportStore() *StrikeReportStore {
	return &StrikeReportStore{
		data: make(map[string]*domain.StrikeReport),
	}
}

// Compile-time interface check.
var _ storage.StrikeReportStore = (*StrikeReportStore)(nil)

// Insert adds a report. Returns ErrDuplicateKey if strike_id exists.
func (s *StrikeReportStore) Insert(_ context.Context, r *domain.StrikeReport) error {
	if r == nil || r.StrikeID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.StrikeID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[r.StrikeID] = cloneReport(r)
	return nil
}

// GetByID retrieves a report by strike ID.
func (s *StrikeReportStore) GetByID(_ context.Context, strikeID string) (*domain.StrikeReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[strikeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneReport(r), nil
}

// ListRecent retrieves up to limit reports, newest strike first.
func (s *StrikeReportStore) ListRecent(_ context.Context, limit int) ([]*domain.StrikeReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.StrikeReport, 0, len(s.data))
	for _, r := range s.data {
		result = append(result, cloneReport(r))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StrikeTime.Equal(result[j].StrikeTime) {
			return result[i].StrikeTime.After(result[j].StrikeTime)
		}
		return result[i].StrikeID > result[j].StrikeID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneReport(r *domain.StrikeReport) *domain.StrikeReport {
	c := *r
	c.Receipts = append([]domain.SettlementReceipt(nil), r.Receipts...)
	c.Failures = append([]domain.OrderFailure(nil), r.Failures...)
	c.Requeued = append([]int64(nil), r.Requeued...)
	return &c
}
