package stock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededStore(t *testing.T, productID string, qty, price int) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), Record{ProductID: productID, Quantity: qty, Price: price}))
	return s
}

func TestReserve_Success(t *testing.T) {
	s := newSeededStore(t, "prod-1", 10, 500)
	ctx := context.Background()

	err := s.Reserve(ctx, "prod-1", 4)

	require.NoError(t, err)
	rec, err := s.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Quantity)
}

func TestReserve_Insufficient(t *testing.T) {
	s := newSeededStore(t, "prod-1", 3, 500)
	ctx := context.Background()

	err := s.Reserve(ctx, "prod-1", 4)

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "prod-1")

	// Failed reservation leaves the counter untouched
	rec, _ := s.Get(ctx, "prod-1")
	assert.Equal(t, 3, rec.Quantity)
}

func TestReserve_ExactQuantity(t *testing.T) {
	s := newSeededStore(t, "prod-1", 5, 100)

	err := s.Reserve(context.Background(), "prod-1", 5)

	require.NoError(t, err)
	rec, _ := s.Get(context.Background(), "prod-1")
	assert.Equal(t, 0, rec.Quantity)
}

func TestReserve_UnknownProduct(t *testing.T) {
	s := NewMemoryStore()

	err := s.Reserve(context.Background(), "nope", 1)

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestReserve_InvalidQuantity(t *testing.T) {
	s := newSeededStore(t, "prod-1", 10, 100)

	assert.ErrorIs(t, s.Reserve(context.Background(), "prod-1", 0), ErrInvalidQuantity)
	assert.ErrorIs(t, s.Reserve(context.Background(), "prod-1", -2), ErrInvalidQuantity)
}

func TestRelease_RestoresQuantity(t *testing.T) {
	s := newSeededStore(t, "prod-1", 10, 100)
	ctx := context.Background()

	require.NoError(t, s.Reserve(ctx, "prod-1", 7))
	require.NoError(t, s.Release(ctx, "prod-1", 7))

	rec, _ := s.Get(ctx, "prod-1")
	assert.Equal(t, 10, rec.Quantity)
}

func TestRelease_UnknownProduct(t *testing.T) {
	s := NewMemoryStore()

	err := s.Release(context.Background(), "nope", 1)

	assert.ErrorIs(t, err, ErrProductNotFound)
}

// Two orders race for 6 of 10 units: exactly one wins, stock ends at 4,
// and the counter never goes negative.
func TestReserve_ConcurrentContention(t *testing.T) {
	s := newSeededStore(t, "prod-1", 10, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Reserve(ctx, "prod-1", 6)
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrInsufficientStock)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	rec, _ := s.Get(ctx, "prod-1")
	assert.Equal(t, 4, rec.Quantity)
}

// Committed reservations minus releases always equals Q - currentQuantity.
func TestReserve_ConcurrentAccounting(t *testing.T) {
	const initial = 50
	s := newSeededStore(t, "prod-1", initial, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Reserve(ctx, "prod-1", 1); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	rec, _ := s.Get(ctx, "prod-1")
	assert.LessOrEqual(t, reserved, initial)
	assert.Equal(t, initial-reserved, rec.Quantity)
	assert.GreaterOrEqual(t, rec.Quantity, 0)
}

func TestStores_DisjointProducts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Record{ProductID: "a", Quantity: 100, Price: 10}))
	require.NoError(t, s.Put(ctx, Record{ProductID: "b", Quantity: 100, Price: 20}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Reserve(ctx, "a", 1)
		}()
		go func() {
			defer wg.Done()
			_ = s.Reserve(ctx, "b", 1)
		}()
	}
	wg.Wait()

	a, _ := s.Get(ctx, "a")
	b, _ := s.Get(ctx, "b")
	assert.Equal(t, 0, a.Quantity)
	assert.Equal(t, 0, b.Quantity)
}
