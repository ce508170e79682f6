package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrUnknownTransaction    = errors.New("unknown transaction")
	ErrPersistence           = errors.New("persistence failure")
	ErrCorrectionFailForward = errors.New("correction restocked but could not be reapplied")
)

type InsufficientStockError struct {
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Shortfall is how many units were missing.
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

type InvalidQuantityError struct {
	Value int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d: must be a positive integer", e.Value)
}

func (e *InvalidQuantityError) Is(target error) bool {
	return target == ErrInvalidQuantity
}

type UnknownTransactionError struct {
	ID string
}

func (e *UnknownTransactionError) Error() string {
	return fmt.Sprintf("unknown transaction %q", e.ID)
}

func (e *UnknownTransactionError) Is(target error) bool {
	return target == ErrUnknownTransaction
}

// PersistenceError means the snapshot write failed; the previously stored
// snapshot is still the durable state.
type PersistenceError struct {
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist ledger snapshot: %v", e.Cause)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// CorrectionFailForwardError is returned when a correction put the original
// quantity back but the new quantity could not be consumed. The restock is
// kept and the transaction is left as it was; someone has to reconcile the
// stock by hand.
type CorrectionFailForwardError struct {
	TransactionID     string                  `json:"transactionId"`
	RestockedSKU      string                  `json:"restockedSku"`
	RestockedLotID    string                  `json:"restockedLotId"`
	RestockedQuantity int                     `json:"restockedQuantity"`
	Shortage          *InsufficientStockError `json:"shortage"`
}

func (e *CorrectionFailForwardError) Error() string {
	return fmt.Sprintf("correction of %s: restocked %d to %q (lot %s) but reapply failed: %v; manual reconciliation required",
		e.TransactionID, e.RestockedQuantity, e.RestockedSKU, e.RestockedLotID, e.Shortage)
}

func (e *CorrectionFailForwardError) Is(target error) bool {
	return target == ErrCorrectionFailForward
}

func (e *CorrectionFailForwardError) Unwrap() error {
	return e.Shortage
}
