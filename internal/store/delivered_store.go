// Package store holds the pipeline's terminal sink: an append-only record
// of every Order that has reached status Delivered.
package store

import (
	"sync"

	"github.com/ChuLiYu/orderline/internal/order"
)

// DeliveredStore is an append-only collection of delivered Orders, kept in
// delivery-completion order. Concurrent Append calls from the deliver pool
// are safe; Snapshot returns a consistent, independent copy.
type DeliveredStore struct {
	mu     sync.RWMutex
	orders []*order.Order
}

// New creates an empty DeliveredStore.
func New() *DeliveredStore {
	return &DeliveredStore{}
}

// Append records o as delivered. o must already be at status Delivered;
// the store does not re-check this, the caller (the deliver stage) owns
// that invariant.
func (s *DeliveredStore) Append(o *order.Order) {
	s.mu.Lock()
	s.orders = append(s.orders, o)
	s.mu.Unlock()
}

// Len returns the number of delivered Orders recorded so far.
func (s *DeliveredStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Snapshot returns a copy of the delivered Orders in delivery order. The
// returned slice and the *Order values it points to are read-only views:
// callers must not mutate them.
func (s *DeliveredStore) Snapshot() []*order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*order.Order, len(s.orders))
	copy(out, s.orders)
	return out
}
