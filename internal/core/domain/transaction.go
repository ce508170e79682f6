package domain

import (
	"slices"
	"time"
)

// Transaction is the audit record of one confirmed consumption. It is only
// ever changed by a correction applied to the same record.
type Transaction struct {
	ID           string           `json:"id"`
	SKU          string           `json:"label"`
	Confidence   float64          `json:"score"`
	SnapshotRef  string           `json:"image,omitempty"`
	Timestamp    time.Time        `json:"ts"`
	Quantity     int              `json:"quantity"`
	ConsumedLots []LotConsumption `json:"consumedLots"`
	Actor        string           `json:"user"`

	*Correction
}

// Correction describes the last correction applied to a transaction.
type Correction struct {
	CorrectedAt      time.Time `json:"correctedAt"`
	CorrectedBy      string    `json:"correctedBy"`
	PreviousLabel    string    `json:"previousLabel,omitempty"`
	PreviousQuantity int       `json:"previousQuantity,omitempty"`
}

func (t Transaction) IsCorrected() bool {
	return t.Correction != nil
}

func (t Transaction) Clone() Transaction {
	out := t
	out.ConsumedLots = slices.Clone(t.ConsumedLots)
	if t.Correction != nil {
		c := *t.Correction
		out.Correction = &c
	}
	return out
}

const UnknownActor = "unknown"

// ActorOrUnknown substitutes UnknownActor for an empty identity.
func ActorOrUnknown(actor string) string {
	if actor == "" {
		return UnknownActor
	}
	return actor
}
