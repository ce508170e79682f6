package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
	"github.com/RicardoFernandes2004/LumePatch/internal/port"
)

const (
	StockLotsKey   = "stockLots"
	HistoryKey     = "savedDetections"
	LegacyStockKey = "stock"
)

// recordIDNamespace scopes the ids derived for records stored without one.
var recordIDNamespace = uuid.MustParse("6f1c2a9e-3b7d-4c5e-9a8f-2d4b6e8a0c1f")

// LedgerRepository maps the ledger snapshot onto three blob keys: the lot
// based stock, the newest-first transaction list and the legacy flat stock
// that is only ever read.
type LedgerRepository struct {
	store port.BlobStore
}

func NewLedgerRepository(store port.BlobStore) *LedgerRepository {
	return &LedgerRepository{store: store}
}

func (r *LedgerRepository) LoadStock(ctx context.Context) (domain.StockSource, error) {
	raw, err := r.store.Get(ctx, StockLotsKey)
	if err != nil {
		return domain.StockSource{}, fmt.Errorf("read %s: %w", StockLotsKey, err)
	}
	if raw != nil {
		var lots domain.StockLots
		if err := json.Unmarshal(raw, &lots); err != nil {
			return domain.StockSource{}, fmt.Errorf("decode %s: %w", StockLotsKey, err)
		}
		if lots == nil {
			lots = domain.StockLots{}
		}
		for sku, l := range lots {
			if l == nil {
				lots[sku] = domain.Lots{}
			}
		}
		return domain.StockSource{Kind: domain.StockLotBased, Lots: lots}, nil
	}

	raw, err = r.store.Get(ctx, LegacyStockKey)
	if err != nil {
		return domain.StockSource{}, fmt.Errorf("read %s: %w", LegacyStockKey, err)
	}
	if raw != nil {
		legacy, err := decodeLegacyStock(raw)
		if err != nil {
			return domain.StockSource{}, err
		}
		return domain.StockSource{Kind: domain.StockLegacyFlat, Legacy: legacy}, nil
	}

	return domain.StockSource{Kind: domain.StockAbsent}, nil
}

// decodeLegacyStock accepts quantities written as numbers or numeric strings.
func decodeLegacyStock(raw []byte) (map[string]int, error) {
	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", LegacyStockKey, err)
	}

	legacy := make(map[string]int, len(values))
	for label, value := range values {
		var n json.Number
		if err := json.Unmarshal(value, &n); err != nil {
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, fmt.Errorf("decode %s[%s]: %w", LegacyStockKey, label, err)
			}
			n = json.Number(strings.TrimSpace(s))
		}
		if n == "" {
			legacy[label] = 0
			continue
		}

		qty, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s[%s]: %w", LegacyStockKey, label, err)
		}
		// Lots hold whole units; a fractional count migrates as its floor.
		legacy[label] = int(math.Floor(qty))
	}
	return legacy, nil
}

func (r *LedgerRepository) LoadHistory(ctx context.Context) ([]domain.Transaction, error) {
	raw, err := r.store.Get(ctx, HistoryKey)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", HistoryKey, err)
	}

	history := []domain.Transaction{}
	if raw == nil {
		return history, nil
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decode %s: %w", HistoryKey, err)
	}
	if history == nil {
		history = []domain.Transaction{}
	}

	for i := range history {
		if history[i].ID == "" {
			history[i].ID = derivedRecordID(history[i], len(history)-1-i)
		}
		if history[i].ConsumedLots == nil {
			history[i].ConsumedLots = []domain.LotConsumption{}
		}
	}
	return history, nil
}

// derivedRecordID names a record stored without an id. position counts from
// the oldest record, so the id stays the same across loads and after newer
// records are prepended.
func derivedRecordID(tx domain.Transaction, position int) string {
	name := fmt.Sprintf("%d|%s|%s", position, tx.Timestamp.UTC().Format(time.RFC3339Nano), tx.SKU)
	return uuid.NewSHA1(recordIDNamespace, []byte(name)).String()
}

// Save writes stock and history together. The legacy key is left as is.
func (r *LedgerRepository) Save(ctx context.Context, snapshot domain.Snapshot) error {
	stock := snapshot.Stock
	if stock == nil {
		stock = domain.StockLots{}
	}
	history := snapshot.History
	if history == nil {
		history = []domain.Transaction{}
	}

	stockJSON, err := json.Marshal(stock)
	if err != nil {
		return fmt.Errorf("encode %s: %w", StockLotsKey, err)
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode %s: %w", HistoryKey, err)
	}

	return r.store.SetMany(ctx, map[string][]byte{
		StockLotsKey: stockJSON,
		HistoryKey:   historyJSON,
	})
}
