package port

import (
	"context"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
)

type LedgerRepository interface {
	// LoadStock resolves which stock layout the store currently holds
	LoadStock(ctx context.Context) (domain.StockSource, error)

	// LoadHistory returns transactions newest first
	LoadHistory(ctx context.Context) ([]domain.Transaction, error)

	// Save overwrites the whole persisted ledger state
	Save(ctx context.Context, snapshot domain.Snapshot) error
}
