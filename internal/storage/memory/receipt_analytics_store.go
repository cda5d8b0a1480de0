package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// ReceiptAnalyticsStore is an in-memory implementation of storage.ReceiptAnalyticsStore.
type ReceiptAnalyticsStore struct {
	mu   sync.RWMutex
	data map[string]domain.SettlementReceipt // keyed by strike_id|order_id
}

// NewReceiptAnalyticsStore creates a new in-memory receipt analytics store.
func NewReceiptAnalyticsStore() *ReceiptAnalyticsStore {
	return &ReceiptAnalyticsStore{
		data: make(map[string]domain.SettlementReceipt),
	}
}

// Compile-time interface check.
var _ storage.ReceiptAnalyticsStore = (*ReceiptAnalyticsStore)(nil)

func receiptKey(r domain.SettlementReceipt) string {
	return fmt.Sprintf("%s|%d", r.StrikeID, r.OrderID)
}

// InsertBulk appends receipts. Fails entire batch on any duplicate.
func (s *ReceiptAnalyticsStore) InsertBulk(_ context.Context, receipts []domain.SettlementReceipt) error {
	if len(receipts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(receipts))

	// First pass: check for duplicates (existing + intra-batch)
	for _, r := range receipts {
		if r.StrikeID == "" || r.OrderID <= 0 {
			return storage.ErrInvalidInput
		}
		key := receiptKey(r)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, r := range receipts {
		s.data[receiptKey(r)] = r
	}
	return nil
}

// DailyFlows aggregates receipts by UTC day and kind within [start, end).
func (s *ReceiptAnalyticsStore) DailyFlows(_ context.Context, start, end time.Time) ([]domain.DailyFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type flowKey struct {
		day  time.Time
		kind domain.OrderKind
	}
	flows := make(map[flowKey]*domain.DailyFlow)

	for _, r := range s.data {
		if r.SettledAt.Before(start) || !r.SettledAt.Before(end) {
			continue
		}
		u := r.SettledAt.UTC()
		k := flowKey{day: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), kind: r.Kind}
		f, ok := flows[k]
		if !ok {
			f = &domain.DailyFlow{Day: k.day, Kind: k.kind, Value: decimal.Zero, Shares: decimal.Zero}
			flows[k] = f
		}
		f.Orders++
		f.Value = f.Value.Add(r.ValueAmount)
		f.Shares = f.Shares.Add(r.ShareAmount)
	}

	result := make([]domain.DailyFlow, 0, len(flows))
	for _, f := range flows {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Day.Equal(result[j].Day) {
			return result[i].Day.Before(result[j].Day)
		}
		return result[i].Kind < result[j].Kind
	})
	return result, nil
}
