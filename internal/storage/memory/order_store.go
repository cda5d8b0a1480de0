package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu    sync.RWMutex
	data  map[int64]*domain.StrikeOrder // keyed by order_id
	maxID int64
}

// NewOrderStore creates a new in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		data: make(map[int64]*domain.StrikeOrder),
	}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
func (s *OrderStore) Insert(_ context.Context, o *domain.StrikeOrder) error {
	if o == nil || o.OrderID <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.OrderID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *o
	s.data[o.OrderID] = &copy
	if o.OrderID > s.maxID {
		s.maxID = o.OrderID
	}
	return nil
}

// UpdateStatus moves an order out of PENDING.
func (s *OrderStore) UpdateStatus(_ context.Context, orderID int64, status domain.OrderStatus, reason string, settledAt time.Time) error {
	if !status.IsTerminal() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.data[orderID]
	if !ok {
		return storage.ErrNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return storage.ErrInvalidInput
	}

	o.Status = status
	o.FailureReason = reason
	t := settledAt
	o.SettledAt = &t
	return nil
}

// Delete removes a PENDING order.
func (s *OrderStore) Delete(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.data[orderID]
	if !ok || o.Status != domain.OrderStatusPending {
		return storage.ErrNotFound
	}
	delete(s.data, orderID)
	return nil
}

// GetByID retrieves an order by its ID.
func (s *OrderStore) GetByID(_ context.Context, orderID int64) (*domain.StrikeOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.data[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *o
	return &copy, nil
}

// ListByStatus retrieves all orders with the given status, ordered by order_id ASC.
func (s *OrderStore) ListByStatus(_ context.Context, status domain.OrderStatus) ([]*domain.StrikeOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StrikeOrder
	for _, o := range s.data {
		if o.Status == status {
			copy := *o
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OrderID < result[j].OrderID
	})
	return result, nil
}

// MaxOrderID returns the highest order_id ever stored, deleted orders included.
func (s *OrderStore) MaxOrderID(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxID, nil
}
