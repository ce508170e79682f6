package fefo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
)

var (
	t1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	t3 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func TestConsume_OldestFirst(t *testing.T) {
	lots := domain.Lots{
		{LotID: "B", Quantity: 5, ReceivedAt: t2},
		{LotID: "A", Quantity: 5, ReceivedAt: t1},
	}

	res, err := Consume(lots, 7)
	require.NoError(t, err)

	assert.Equal(t, []domain.LotConsumption{
		{LotID: "A", Quantity: 5, ReceivedAt: t1},
		{LotID: "B", Quantity: 2, ReceivedAt: t2},
	}, res.Breakdown)
	assert.Equal(t, domain.Lots{{LotID: "B", Quantity: 3, ReceivedAt: t2}}, res.Lots)
}

func TestConsume_InsufficientStockLeavesLotsUntouched(t *testing.T) {
	lots := domain.Lots{
		{LotID: "L1", Quantity: 20, ReceivedAt: t1},
	}
	before := lots.Clone()

	res, err := Consume(lots, 25)

	var short *domain.InsufficientStockError
	require.True(t, errors.As(err, &short))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 25, short.Requested)
	assert.Equal(t, 20, short.Available)
	assert.Equal(t, 5, short.Shortfall())
	assert.Equal(t, before, lots)
	assert.Equal(t, before, res.Lots)
	assert.Empty(t, res.Breakdown)
}

func TestConsume_PartialLot(t *testing.T) {
	lots := domain.Lots{{LotID: "L1", Quantity: 20, ReceivedAt: t1}}

	res, err := Consume(lots, 15)
	require.NoError(t, err)

	assert.Equal(t, []domain.LotConsumption{{LotID: "L1", Quantity: 15, ReceivedAt: t1}}, res.Breakdown)
	assert.Equal(t, domain.Lots{{LotID: "L1", Quantity: 5, ReceivedAt: t1}}, res.Lots)
	assert.Equal(t, 20, lots[0].Quantity, "input must not be mutated")
}

func TestConsume_ExactExhaustionRemovesLot(t *testing.T) {
	lots := domain.Lots{
		{LotID: "A", Quantity: 4, ReceivedAt: t1},
		{LotID: "B", Quantity: 4, ReceivedAt: t2},
	}

	res, err := Consume(lots, 8)
	require.NoError(t, err)

	assert.Empty(t, res.Lots)
	assert.Len(t, res.Breakdown, 2)
}

func TestConsume_TiesKeepInputOrder(t *testing.T) {
	lots := domain.Lots{
		{LotID: "first", Quantity: 2, ReceivedAt: t1},
		{LotID: "second", Quantity: 2, ReceivedAt: t1},
		{LotID: "older", Quantity: 1, ReceivedAt: t1.Add(-time.Hour)},
	}

	res, err := Consume(lots, 4)
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Breakdown))
	for _, c := range res.Breakdown {
		ids = append(ids, c.LotID)
	}
	assert.Equal(t, []string{"older", "first", "second"}, ids)
	assert.Equal(t, domain.Lots{{LotID: "second", Quantity: 1, ReceivedAt: t1}}, res.Lots)
}

func TestConsume_SkipsEmptyLots(t *testing.T) {
	lots := domain.Lots{
		{LotID: "empty", Quantity: 0, ReceivedAt: t1},
		{LotID: "full", Quantity: 3, ReceivedAt: t3},
	}

	res, err := Consume(lots, 2)
	require.NoError(t, err)

	assert.Equal(t, []domain.LotConsumption{{LotID: "full", Quantity: 2, ReceivedAt: t3}}, res.Breakdown)
	assert.Equal(t, domain.Lots{{LotID: "full", Quantity: 1, ReceivedAt: t3}}, res.Lots)
}

func TestConsume_RejectsNonPositiveQuantity(t *testing.T) {
	lots := domain.Lots{{LotID: "L1", Quantity: 1, ReceivedAt: t1}}

	for _, qty := range []int{0, -3} {
		_, err := Consume(lots, qty)
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	}
}

func TestConsume_NoNegativeQuantities(t *testing.T) {
	lots := domain.Lots{
		{LotID: "A", Quantity: 3, ReceivedAt: t3},
		{LotID: "B", Quantity: 1, ReceivedAt: t1},
		{LotID: "C", Quantity: 6, ReceivedAt: t2},
	}

	for want := 1; want <= lots.TotalQuantity(); want++ {
		res, err := Consume(lots, want)
		require.NoError(t, err)

		taken := 0
		for _, c := range res.Breakdown {
			assert.Positive(t, c.Quantity)
			taken += c.Quantity
		}
		for _, lot := range res.Lots {
			assert.Positive(t, lot.Quantity)
		}
		assert.Equal(t, want, taken)
		assert.Equal(t, lots.TotalQuantity()-want, res.Lots.TotalQuantity())
	}
}
