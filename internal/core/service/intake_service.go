package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var ErrNothingPending = errors.New("no detection awaiting confirmation")

const (
	DefaultDetectionThreshold = 0.85
	defaultConfirmQuantity    = 1
)

// DefaultIgnoredLabels are classifier classes that never name a supply.
var DefaultIgnoredLabels = []string{"none / outros", "none", "outros"}

// Detection is one classifier prediction for a sampled frame.
type Detection struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
	ImageRef    string  `json:"imageRef,omitempty"`
}

type IntakeConfig struct {
	// Threshold is exclusive: a prediction must score above it.
	Threshold float64
	Ignored   []string
}

type BatchConsumer interface {
	ConsumeBatch(ctx context.Context, requestID string, items []ConsumeCommand) ([]ConsumeOutcome, error)
}

// IntakeService turns classifier output into confirmed consumption. At most
// one set of detections waits for confirmation; cycles arriving meanwhile
// are dropped.
type IntakeService struct {
	ledger    BatchConsumer
	threshold float64
	ignored   map[string]bool
	log       zerolog.Logger

	mu      sync.Mutex
	pending []Detection
}

func NewIntakeService(ledger BatchConsumer, cfg IntakeConfig, logger zerolog.Logger) *IntakeService {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultDetectionThreshold
	}
	if cfg.Ignored == nil {
		cfg.Ignored = DefaultIgnoredLabels
	}

	ignored := make(map[string]bool, len(cfg.Ignored))
	for _, label := range cfg.Ignored {
		ignored[strings.ToLower(strings.TrimSpace(label))] = true
	}

	return &IntakeService{
		ledger:    ledger,
		threshold: cfg.Threshold,
		ignored:   ignored,
		log:       logger.With().Str("component", "intake").Logger(),
	}
}

// Submit offers one sampling cycle. It reports whether the cycle became the
// pending confirmation, and the detections that passed the filters.
func (s *IntakeService) Submit(cycle []Detection) ([]Detection, bool) {
	accepted := s.filter(cycle)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		s.log.Debug().Int("detections", len(accepted)).Msg("confirmation outstanding, cycle dropped")
		return accepted, false
	}
	if len(accepted) == 0 {
		return accepted, false
	}

	s.pending = accepted
	s.log.Info().Int("detections", len(accepted)).Msg("detections awaiting confirmation")
	return slices.Clone(accepted), true
}

func (s *IntakeService) filter(cycle []Detection) []Detection {
	accepted := make([]Detection, 0, len(cycle))
	for _, d := range cycle {
		if d.Probability <= s.threshold {
			continue
		}
		if s.ignored[strings.ToLower(strings.TrimSpace(d.Label))] {
			continue
		}
		accepted = append(accepted, d)
	}
	return accepted
}

func (s *IntakeService) Pending() []Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// Cancel discards the pending detections without touching stock.
func (s *IntakeService) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// Confirm consumes quantity units for every pending detection. A
// non-positive quantity means 1. The pending set is cleared once the ledger
// has evaluated the batch, whatever the per-SKU outcomes.
func (s *IntakeService) Confirm(ctx context.Context, requestID string, quantity int, actor string) ([]ConsumeOutcome, error) {
	if quantity <= 0 {
		quantity = defaultConfirmQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil, ErrNothingPending
	}

	items := make([]ConsumeCommand, 0, len(s.pending))
	for _, d := range s.pending {
		items = append(items, ConsumeCommand{
			SKU:         d.Label,
			Quantity:    quantity,
			Actor:       actor,
			SnapshotRef: d.ImageRef,
			Confidence:  d.Probability,
		})
	}

	outcomes, err := s.ledger.ConsumeBatch(ctx, requestID, items)
	if err != nil {
		return nil, err
	}
	s.pending = nil

	succeeded := 0
	for _, o := range outcomes {
		if o.Err == nil {
			succeeded++
		}
	}
	s.log.Info().Int("confirmed", succeeded).Int("rejected", len(outcomes)-succeeded).Msg("detections confirmed")
	return outcomes, nil
}
