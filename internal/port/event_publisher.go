package port

import (
	"context"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, event domain.LedgerEvent) error
	Close() error
}
