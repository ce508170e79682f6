package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
)

type ItemLevel struct {
	SKU        string `json:"sku"`
	Quantity   int    `json:"quantity"`
	Lots       int    `json:"lots"`
	LowStock   bool   `json:"lowStock"`
	OutOfStock bool   `json:"outOfStock"`
}

type StockSummary struct {
	Items         []ItemLevel `json:"items"`
	TotalQuantity int         `json:"totalQuantity"`
	LowStock      []string    `json:"lowStock"`
	OutOfStock    []string    `json:"outOfStock"`
	Detections    int         `json:"detections"`
}

// TotalQuantity returns the SKU's stock, 0 for an unknown SKU.
func (s *LedgerService) TotalQuantity(ctx context.Context, sku string) (int, error) {
	var total int
	err := s.read(ctx, func(st ledgerState) {
		total = st.stock.TotalQuantity(domain.NormalizeSKU(sku))
	})
	return total, err
}

// ListLots returns the SKU's lots in stored order, which is not FEFO order.
func (s *LedgerService) ListLots(ctx context.Context, sku string) ([]domain.Lot, error) {
	var lots []domain.Lot
	err := s.read(ctx, func(st ledgerState) {
		lots = st.stock.ListLots(domain.NormalizeSKU(sku))
	})
	return lots, err
}

func (s *LedgerService) Stock(ctx context.Context) (domain.StockLots, error) {
	var stock domain.StockLots
	err := s.read(ctx, func(st ledgerState) {
		stock = st.stock.Clone()
	})
	return stock, err
}

// History returns every transaction, newest first.
func (s *LedgerService) History(ctx context.Context) ([]domain.Transaction, error) {
	var history []domain.Transaction
	err := s.read(ctx, func(st ledgerState) {
		history = make([]domain.Transaction, 0, len(st.history))
		for _, tx := range st.history {
			history = append(history, tx.Clone())
		}
	})
	return history, err
}

func (s *LedgerService) Transaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var (
		tx    domain.Transaction
		found bool
	)
	err := s.read(ctx, func(st ledgerState) {
		idx := slices.IndexFunc(st.history, func(t domain.Transaction) bool { return t.ID == id })
		if idx >= 0 {
			tx, found = st.history[idx].Clone(), true
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &domain.UnknownTransactionError{ID: id}
	}
	return &tx, nil
}

// ExportHistory writes the history as an indented JSON array.
func (s *LedgerService) ExportHistory(ctx context.Context, w io.Writer) error {
	history, err := s.History(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(history); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return nil
}

// Summary reports stock levels for the catalog followed by any other known SKU.
func (s *LedgerService) Summary(ctx context.Context) (StockSummary, error) {
	var summary StockSummary
	err := s.read(ctx, func(st ledgerState) {
		summary = StockSummary{
			Items:      []ItemLevel{},
			LowStock:   []string{},
			OutOfStock: []string{},
			Detections: len(st.history),
		}

		for _, sku := range s.summarySKUs(st.stock) {
			level := ItemLevel{
				SKU:      sku,
				Quantity: st.stock.TotalQuantity(sku),
				Lots:     len(st.stock[sku]),
			}
			level.LowStock = level.Quantity <= s.cfg.LowStockThreshold
			level.OutOfStock = level.Quantity == 0

			summary.Items = append(summary.Items, level)
			summary.TotalQuantity += level.Quantity
			if level.LowStock {
				summary.LowStock = append(summary.LowStock, sku)
			}
			if level.OutOfStock {
				summary.OutOfStock = append(summary.OutOfStock, sku)
			}
		}
	})
	return summary, err
}

func (s *LedgerService) summarySKUs(stock domain.StockLots) []string {
	seen := make(map[string]bool, len(s.cfg.Catalog)+len(stock))
	skus := make([]string, 0, len(seen))
	for _, label := range s.cfg.Catalog {
		sku := domain.NormalizeSKU(label)
		if sku == "" || seen[sku] {
			continue
		}
		seen[sku] = true
		skus = append(skus, sku)
	}
	for _, sku := range stock.SKUs() {
		if !seen[sku] {
			seen[sku] = true
			skus = append(skus, sku)
		}
	}
	return skus
}
