package messaging

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
)

// LogPublisher writes events to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	p.log.Info().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("sku", event.SKU).
		Int("quantity", event.Quantity).
		Str("lot_id", event.LotID).
		Str("transaction_id", event.TransactionID).
		Str("actor", event.Actor).
		Time("occurred_at", event.OccurredAt).
		Msg("ledger event")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
