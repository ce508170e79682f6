package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
)

func TestLedgerRepository_LoadStockAbsent(t *testing.T) {
	repo := NewLedgerRepository(NewMemoryStore())

	src, err := repo.LoadStock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StockAbsent, src.Kind)
}

func TestLedgerRepository_LoadLegacyStock(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SetMany(ctx, map[string][]byte{
		LegacyStockKey: []byte(`{"luvas": 12, "seringa": "7", "alcool": null, "avental": 4.8, "agulha": "2.5"}`),
	}))

	src, err := NewLedgerRepository(store).LoadStock(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StockLegacyFlat, src.Kind)
	assert.Equal(t, map[string]int{"luvas": 12, "seringa": 7, "alcool": 0, "avental": 4, "agulha": 2}, src.Legacy)
}

func TestLedgerRepository_LotsWinOverLegacy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SetMany(ctx, map[string][]byte{
		LegacyStockKey: []byte(`{"luvas": 12}`),
		StockLotsKey:   []byte(`{"luvas":[{"lotId":"L1","qty":4,"ts":"2025-05-01T12:00:00"}],"mascara":null}`),
	}))

	src, err := NewLedgerRepository(store).LoadStock(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StockLotBased, src.Kind)
	assert.Equal(t, domain.Lots{{LotID: "L1", Quantity: 4, ReceivedAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}}, src.Lots["luvas"])
	assert.NotNil(t, src.Lots["mascara"])
	assert.Empty(t, src.Lots["mascara"])
}

func TestLedgerRepository_RejectsNegativeLot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SetMany(ctx, map[string][]byte{
		StockLotsKey: []byte(`{"luvas":[{"lotId":"L1","qty":-4,"ts":"2025-05-01T12:00:00"}]}`),
	}))

	_, err := NewLedgerRepository(store).LoadStock(ctx)
	assert.Error(t, err)
}

func TestLedgerRepository_LoadHistoryAssignsMissingIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SetMany(ctx, map[string][]byte{
		HistoryKey: []byte(`[
			{"id":"t2","label":"luvas","score":0.9,"ts":"2025-05-02T10:00:00Z","quantity":1,"consumedLots":[],"user":"ana"},
			{"label":"seringa","score":0.88,"ts":"2025-05-01T10:00:00Z","quantity":2,"user":"bia"}
		]`),
	}))

	history, err := NewLedgerRepository(store).LoadHistory(ctx)
	require.NoError(t, err)

	require.Len(t, history, 2)
	assert.Equal(t, "t2", history[0].ID)
	assert.NotEmpty(t, history[1].ID)
	assert.NotNil(t, history[1].ConsumedLots)
	assert.Equal(t, "bia", history[1].Actor)
}

func TestLedgerRepository_MissingIDsStableAcrossLoads(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SetMany(ctx, map[string][]byte{
		HistoryKey: []byte(`[
			{"label":"mascara","score":0.9,"ts":"2025-05-01T10:00:00Z","quantity":3,"user":"ana"},
			{"label":"mascara","score":0.9,"ts":"2025-05-01T10:00:00Z","quantity":3,"user":"ana"}
		]`),
	}))
	repo := NewLedgerRepository(store)

	first, err := repo.LoadHistory(ctx)
	require.NoError(t, err)
	second, err := repo.LoadHistory(ctx)
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)
	assert.NotEqual(t, first[0].ID, first[1].ID, "identical records still get distinct ids")

	newer := append([]domain.Transaction{{ID: "t3", SKU: "luvas", Quantity: 1, Timestamp: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)}}, first...)
	for i := range newer[1:] {
		newer[i+1].ID = ""
	}
	require.NoError(t, repo.Save(ctx, domain.Snapshot{History: newer}))

	third, err := repo.LoadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, third, 3)
	assert.Equal(t, first[0].ID, third[1].ID, "prepending keeps older ids")
	assert.Equal(t, first[1].ID, third[2].ID)
}

func TestLedgerRepository_SaveRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	repo := NewLedgerRepository(store)
	ctx := context.Background()
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SetMany(ctx, map[string][]byte{LegacyStockKey: []byte(`{"luvas": 1}`)}))

	snapshot := domain.Snapshot{
		Stock: domain.StockLots{"luvas": {{LotID: "L1", Quantity: 3, ReceivedAt: ts}}},
		History: []domain.Transaction{{
			ID:           "t1",
			SKU:          "luvas",
			Confidence:   0.91,
			Timestamp:    ts,
			Quantity:     2,
			ConsumedLots: []domain.LotConsumption{{LotID: "L1", Quantity: 2, ReceivedAt: ts}},
			Actor:        "ana",
			Correction:   &domain.Correction{CorrectedAt: ts, CorrectedBy: "bia", PreviousLabel: "mascara", PreviousQuantity: 1},
		}},
	}
	require.NoError(t, repo.Save(ctx, snapshot))

	src, err := repo.LoadStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StockLotBased, src.Kind)
	assert.Equal(t, snapshot.Stock, src.Lots)

	history, err := repo.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot.History, history)

	legacy, err := store.Get(ctx, LegacyStockKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"luvas": 1}`, string(legacy))
}

func TestLedgerRepository_SaveFailure(t *testing.T) {
	store := NewMemoryStore()
	repo := NewLedgerRepository(store)
	ctx := context.Background()
	boom := errors.New("write refused")

	require.NoError(t, repo.Save(ctx, domain.Snapshot{Stock: domain.StockLots{"luvas": {}}}))
	store.FailWrites(boom)

	err := repo.Save(ctx, domain.Snapshot{Stock: domain.StockLots{"seringa": {}}})
	assert.ErrorIs(t, err, boom)

	src, err := repo.LoadStock(ctx)
	require.NoError(t, err)
	assert.Contains(t, src.Lots, "luvas")
	assert.NotContains(t, src.Lots, "seringa")
}

func TestMemoryStore_SetIdempotency(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := store.SetIdempotency(ctx, "ledger:request:r1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.SetIdempotency(ctx, "ledger:request:r1")
	assert.False(t, ok)

	now = now.Add(idempotencyKeyTTL + time.Second)
	ok, _ = store.SetIdempotency(ctx, "ledger:request:r1")
	assert.True(t, ok, "claim expires with its ttl")
}

func TestMemoryStore_ReleaseIdempotency(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.SetIdempotency(ctx, "ledger:request:r1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.ReleaseIdempotency(ctx, "ledger:request:r1"))

	ok, err = store.SetIdempotency(ctx, "ledger:request:r1")
	require.NoError(t, err)
	assert.True(t, ok, "released key can be claimed again")
}

func TestLocalLock(t *testing.T) {
	lock := NewLocalLock()

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	release, err = lock.Acquire(context.Background())
	require.NoError(t, err)
	release()
}
