// Package fefo decides which lots a consumption debits.
//
// FEFO stands for first-expired-first-out. Lots carry no expiry date, so the
// oldest receipt is taken to expire first. The engine is pure: it never
// mutates its input and knows nothing about SKUs, history or persistence.
package fefo

import (
	"slices"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
)

// Result is the outcome of a consumption walk.
type Result struct {
	// Lots is the lot list after the debit, oldest first, without exhausted lots.
	Lots domain.Lots
	// Breakdown lists every debited lot in the order it was debited.
	Breakdown []domain.LotConsumption
}

// Consume debits desired units from lots, oldest receipt first. Lots received
// at the same instant keep their input order.
//
// Consumption is all-or-nothing. When the lots hold fewer than desired units
// the returned Result carries the input list unchanged and the error is an
// *domain.InsufficientStockError with SKU left empty for the caller to fill in.
// A non-positive desired quantity yields *domain.InvalidQuantityError.
func Consume(lots domain.Lots, desired int) (Result, error) {
	if desired <= 0 {
		return Result{Lots: lots}, &domain.InvalidQuantityError{Value: desired}
	}

	available := lots.TotalQuantity()
	if available < desired {
		return Result{Lots: lots}, &domain.InsufficientStockError{
			Requested: desired,
			Available: available,
		}
	}

	sorted := slices.Clone(lots)
	slices.SortStableFunc(sorted, func(a, b domain.Lot) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})

	remaining := desired
	breakdown := make([]domain.LotConsumption, 0, 1)
	for i := 0; i < len(sorted) && remaining > 0; i++ {
		if sorted[i].IsExhausted() {
			continue
		}

		take := min(sorted[i].Quantity, remaining)
		sorted[i].Quantity -= take
		remaining -= take

		breakdown = append(breakdown, domain.LotConsumption{
			LotID:      sorted[i].LotID,
			Quantity:   take,
			ReceivedAt: sorted[i].ReceivedAt,
		})
	}

	return Result{
		Lots:      sorted.RemoveExhausted(),
		Breakdown: breakdown,
	}, nil
}
