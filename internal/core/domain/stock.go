package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// StockLots maps a normalized SKU to its lots.
type StockLots map[string]Lots

// TotalQuantity returns the sum of the SKU's lot quantities, 0 when the SKU is unknown.
func (s StockLots) TotalQuantity(sku string) int {
	return s[sku].TotalQuantity()
}

// ListLots returns a copy of the SKU's lots in stored order. Stored order is not FEFO order.
func (s StockLots) ListLots(sku string) []Lot {
	return s[sku].Clone()
}

// SKUs returns the known SKUs sorted.
func (s StockLots) SKUs() []string {
	var keys []string
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (s StockLots) Clone() StockLots {
	out := make(StockLots, len(s))
	for sku, lots := range s {
		out[sku] = lots.Clone()
	}
	return out
}

// NormalizeSKU lower-cases a label and joins words with underscores, so
// "Luva Latex" and "luva_latex" address the same SKU.
func NormalizeSKU(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
}

// Migrate turns legacy flat quantities into one synthetic lot per SKU received at now.
// Running it twice yields two different lots; callers only migrate when no
// lot-based stock has been stored yet.
func Migrate(legacy map[string]int, now time.Time) StockLots {
	lotID := fmt.Sprintf("initial_%d", now.UnixMilli())

	totals := make(map[string]int, len(legacy))
	for label, qty := range legacy {
		totals[NormalizeSKU(label)] += max(qty, 0)
	}

	stock := make(StockLots, len(totals))
	for sku, qty := range totals {
		if qty == 0 {
			stock[sku] = Lots{}
			continue
		}
		stock[sku] = Lots{{LotID: lotID, Quantity: qty, ReceivedAt: now}}
	}
	return stock
}

// Seed creates an opening lot of quantity for every catalog label.
func Seed(catalog []string, quantity int, now time.Time) StockLots {
	stock := make(StockLots, len(catalog))
	for _, label := range catalog {
		sku := NormalizeSKU(label)
		stock[sku] = Lots{{LotID: "initial_" + sku, Quantity: quantity, ReceivedAt: now}}
	}
	return stock
}

type StockSourceKind int

const (
	StockAbsent StockSourceKind = iota
	StockLegacyFlat
	StockLotBased
)

func (k StockSourceKind) String() string {
	switch k {
	case StockLegacyFlat:
		return "legacy_flat"
	case StockLotBased:
		return "lot_based"
	default:
		return "absent"
	}
}

// StockSource is what the store held at startup. Legacy is set only for
// StockLegacyFlat and Lots only for StockLotBased.
type StockSource struct {
	Kind   StockSourceKind
	Legacy map[string]int
	Lots   StockLots
}

// Snapshot is the complete persisted ledger state.
type Snapshot struct {
	Stock   StockLots
	History []Transaction
}
