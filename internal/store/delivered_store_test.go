package store

import (
	"sync"
	"testing"

	"github.com/ChuLiYu/orderline/internal/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deliveredOrder(t *testing.T, id int64) *order.Order {
	t.Helper()
	o := order.New(id)
	require.NoError(t, o.AdvanceTo(order.Prepared))
	require.NoError(t, o.AdvanceTo(order.Packed))
	require.NoError(t, o.AdvanceTo(order.Delivered))
	return o
}

func TestAppend_PreservesOrder(t *testing.T) {
	s := New()
	for i := int64(1); i <= 5; i++ {
		s.Append(deliveredOrder(t, i))
	}

	snap := s.Snapshot()
	require.Len(t, snap, 5)
	for i, o := range snap {
		assert.Equal(t, int64(i+1), o.ID)
	}
	assert.Equal(t, 5, s.Len())
}

func TestAppend_ConcurrentSafe(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	const n = 200

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			s.Append(deliveredOrder(t, i))
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, n, s.Len())
	assert.Len(t, s.Snapshot(), n)
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	s := New()
	s.Append(deliveredOrder(t, 1))

	snap := s.Snapshot()
	snap[0] = deliveredOrder(t, 999)

	assert.Equal(t, int64(1), s.Snapshot()[0].ID, "mutating a returned snapshot must not affect the store")
}

func TestSnapshot_EmptyStore(t *testing.T) {
	s := New()
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, 0, s.Len())
}
