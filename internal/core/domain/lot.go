package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Lot is one received batch of a SKU. Lots are consumed oldest ReceivedAt first.
type Lot struct {
	LotID      string    `json:"lotId"`
	Quantity   int       `json:"qty"`
	ReceivedAt time.Time `json:"ts"`
}

// IsExhausted reports whether the lot has nothing left to consume.
func (l Lot) IsExhausted() bool {
	return l.Quantity <= 0
}

func (l *Lot) UnmarshalJSON(data []byte) error {
	var raw struct {
		LotID    string `json:"lotId"`
		Quantity int    `json:"qty"`
		TS       string `json:"ts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Quantity < 0 {
		return fmt.Errorf("lot %s: negative quantity %d", raw.LotID, raw.Quantity)
	}

	ts, err := ParseTimestamp(raw.TS)
	if err != nil {
		return fmt.Errorf("lot %s: %w", raw.LotID, err)
	}

	*l = Lot{LotID: raw.LotID, Quantity: raw.Quantity, ReceivedAt: ts}
	return nil
}

// Lots is the lot list of a single SKU.
type Lots []Lot

// TotalQuantity returns the quantity summed across every lot.
func (ls Lots) TotalQuantity() int {
	total := 0
	for _, lot := range ls {
		total += lot.Quantity
	}
	return total
}

// RemoveExhausted returns a new list without zero-quantity lots.
func (ls Lots) RemoveExhausted() Lots {
	result := make(Lots, 0, len(ls))
	for _, lot := range ls {
		if !lot.IsExhausted() {
			result = append(result, lot)
		}
	}
	return result
}

func (ls Lots) Clone() Lots {
	if ls == nil {
		return nil
	}
	return slices.Clone(ls)
}

// Prepend returns a new list with lot placed first. The receiver is not modified.
func (ls Lots) Prepend(lot Lot) Lots {
	result := make(Lots, 0, len(ls)+1)
	result = append(result, lot)
	return append(result, ls...)
}

// LotConsumption records how much one debit took from one lot.
type LotConsumption struct {
	LotID      string    `json:"lotId"`
	Quantity   int       `json:"qty"`
	ReceivedAt time.Time `json:"ts"`
}
