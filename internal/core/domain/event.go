package domain

import "time"

type EventType string

const (
	EventStockConsumed         EventType = "stock.consumed"
	EventStockRestocked        EventType = "stock.restocked"
	EventTransactionCorrected  EventType = "transaction.corrected"
	EventCorrectionFailForward EventType = "correction.fail_forward"
	EventHistoryCleared        EventType = "history.cleared"
)

// LedgerEvent is emitted after a mutation has been persisted.
type LedgerEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	SKU           string    `json:"sku,omitempty"`
	Quantity      int       `json:"quantity,omitempty"`
	LotID         string    `json:"lotId,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	Actor         string    `json:"actor"`
	OccurredAt    time.Time `json:"occurredAt"`
}
