package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
	"github.com/RicardoFernandes2004/LumePatch/internal/core/fefo"
	"github.com/RicardoFernandes2004/LumePatch/internal/port"
)

var (
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrEmptySKU         = errors.New("sku is empty")
	ErrDuplicateLotID   = errors.New("lot id already used for this sku")
)

const (
	opLoad         = "load"
	opConsume      = "consume"
	opConsumeBatch = "consume_batch"
	opRestock      = "restock"
	opCorrect      = "correct"
	opClearHistory = "clear_history"

	DefaultSeedQuantity      = 20
	DefaultLowStockThreshold = 10

	idempotencyKeyPrefix = "ledger:request:"
)

// DefaultCatalog is the label set of the supply classifier.
var DefaultCatalog = []string{
	"soro_fisiológico_0,9%",
	"mascara",
	"caixa_de_máscara_10_unidades",
	"luva_latex_m_10_unidades",
	"seringa",
	"luvas",
	"alcool",
	"termometro",
	"avental",
	"agulha",
	"tubo_ensaio",
	"pipeta",
	"centrifuga",
	"microscopio",
	"ataduras",
}

type LedgerConfig struct {
	// Catalog is seeded when the store holds no stock at all and always
	// appears in summaries.
	Catalog           []string
	SeedQuantity      int
	LowStockThreshold int
	// SharedStore makes every operation reload the snapshot after taking the
	// writer lock, so writes from other processes on the same store are seen.
	SharedStore    bool
	EventQueueSize int
}

type Option func(*LedgerService)

func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *LedgerService) { s.idem = store }
}

func WithMetrics(m port.MetricsRecorder) Option {
	return func(s *LedgerService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *LedgerService) { s.newID = newID }
}

type ConsumeCommand struct {
	RequestID   string
	SKU         string
	Quantity    int
	Actor       string
	SnapshotRef string
	Confidence  float64
}

type ConsumeOutcome struct {
	SKU         string
	Requested   int
	Transaction *domain.Transaction
	Err         error
}

type RestockCommand struct {
	SKU      string
	Quantity int
	// LotID and ReceivedAt are optional; a lot id is generated and the
	// receipt defaults to now.
	LotID      string
	ReceivedAt time.Time
	Actor      string
}

type CorrectCommand struct {
	TransactionID string
	NewLabel      string
	// NewQuantity may be zero to mark the detection as a false positive.
	NewQuantity int
	Actor       string
}

type ledgerState struct {
	stock   domain.StockLots
	history []domain.Transaction
}

func (st ledgerState) clone() ledgerState {
	return ledgerState{
		stock:   st.stock.Clone(),
		history: slices.Clone(st.history),
	}
}

// mutation is the working copy of one operation. Nothing reaches the live
// state unless the snapshot write succeeds.
type mutation struct {
	state   ledgerState
	events  []domain.LedgerEvent
	touched map[string]struct{}
	dirty   bool
}

func (m *mutation) touch(sku string) {
	if m.touched == nil {
		m.touched = make(map[string]struct{})
	}
	m.touched[sku] = struct{}{}
	m.dirty = true
}

func (m *mutation) emit(event domain.LedgerEvent) {
	m.events = append(m.events, event)
}

// LedgerService owns the SKU lots and the transaction history. All
// operations run one at a time under the writer lock.
type LedgerService struct {
	repo    port.LedgerRepository
	lock    port.WriterLock
	idem    port.IdempotencyStore
	metrics port.MetricsRecorder
	log     zerolog.Logger
	cfg     LedgerConfig
	now     func() time.Time
	newID   func() string

	events chan domain.LedgerEvent

	state  ledgerState
	loaded bool
}

func NewLedgerService(repo port.LedgerRepository, lock port.WriterLock, cfg LedgerConfig, logger zerolog.Logger, opts ...Option) *LedgerService {
	if cfg.SeedQuantity <= 0 {
		cfg.SeedQuantity = DefaultSeedQuantity
	}
	if cfg.LowStockThreshold < 0 {
		cfg.LowStockThreshold = DefaultLowStockThreshold
	}

	s := &LedgerService{
		repo:    repo,
		lock:    lock,
		metrics: noopMetrics{},
		log:     logger.With().Str("component", "ledger").Logger(),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		state:   ledgerState{stock: domain.StockLots{}},
	}
	if cfg.EventQueueSize > 0 {
		s.events = make(chan domain.LedgerEvent, cfg.EventQueueSize)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the stored snapshot. Legacy flat stock is migrated into lots and
// an empty store is seeded from the catalog; both results are written back
// immediately so the migration never runs twice.
func (s *LedgerService) Load(ctx context.Context) error {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer release()

	return s.reload(ctx)
}

func (s *LedgerService) reload(ctx context.Context) error {
	src, err := s.repo.LoadStock(ctx)
	if err != nil {
		return fmt.Errorf("load stock: %w", err)
	}
	history, err := s.repo.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	var stock domain.StockLots
	write := false
	switch src.Kind {
	case domain.StockLotBased:
		stock = src.Lots
	case domain.StockLegacyFlat:
		stock = domain.Migrate(src.Legacy, s.now())
		write = true
		s.log.Info().Int("skus", len(stock)).Msg("migrated legacy flat stock into lots")
	default:
		stock = domain.Seed(s.cfg.Catalog, s.cfg.SeedQuantity, s.now())
		write = true
		s.log.Info().Int("skus", len(stock)).Int("quantity", s.cfg.SeedQuantity).Msg("seeded empty store from catalog")
	}
	if stock == nil {
		stock = domain.StockLots{}
	}

	next := ledgerState{stock: stock, history: history}
	if write {
		if err := s.repo.Save(ctx, domain.Snapshot{Stock: next.stock, History: next.history}); err != nil {
			s.metrics.ObserveOperation(opLoad, "persistence_failure")
			return &domain.PersistenceError{Cause: err}
		}
	}

	s.state = next
	s.loaded = true
	for _, sku := range stock.SKUs() {
		s.metrics.SetStockLevel(sku, stock.TotalQuantity(sku))
	}
	return nil
}

func (s *LedgerService) ensureLoaded(ctx context.Context) error {
	if s.loaded && !s.cfg.SharedStore {
		return nil
	}
	return s.reload(ctx)
}

func (s *LedgerService) mutate(ctx context.Context, op string, fn func(m *mutation) error) error {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer release()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	m := &mutation{state: s.state.clone()}
	opErr := fn(m)

	if m.dirty {
		snapshot := domain.Snapshot{Stock: m.state.stock, History: m.state.history}
		if err := s.repo.Save(ctx, snapshot); err != nil {
			s.metrics.ObserveOperation(op, "persistence_failure")
			s.log.Error().Err(err).Str("operation", op).Msg("snapshot write failed, previous state kept")
			return &domain.PersistenceError{Cause: err}
		}

		s.state = m.state
		for sku := range m.touched {
			s.metrics.SetStockLevel(sku, s.state.stock.TotalQuantity(sku))
		}
		s.enqueue(m.events)
	}

	s.metrics.ObserveOperation(op, outcome(opErr))
	return opErr
}

func (s *LedgerService) read(ctx context.Context, fn func(st ledgerState)) error {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer release()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	fn(s.state)
	return nil
}

// Consume debits cmd.Quantity units of the SKU, oldest lots first, and
// records a transaction. When stock is short nothing changes and the error
// is a *domain.InsufficientStockError.
func (s *LedgerService) Consume(ctx context.Context, cmd ConsumeCommand) (*domain.Transaction, error) {
	sku, err := validateConsume(cmd)
	if err != nil {
		s.metrics.ObserveOperation(opConsume, outcome(err))
		return nil, err
	}
	if err := s.claimRequest(ctx, cmd.RequestID); err != nil {
		return nil, err
	}

	var tx domain.Transaction
	err = s.mutate(ctx, opConsume, func(m *mutation) error {
		var err error
		tx, err = s.consume(m, sku, cmd)
		return err
	})
	if err != nil {
		s.releaseRequest(ctx, cmd.RequestID)
		s.logRejected(opConsume, sku, cmd.Quantity, err)
		return nil, err
	}

	s.log.Info().
		Str("sku", sku).
		Int("quantity", tx.Quantity).
		Str("transaction_id", tx.ID).
		Int("lots_debited", len(tx.ConsumedLots)).
		Msg("stock consumed")
	return &tx, nil
}

// ConsumeBatch evaluates every item on its own: one SKU running short never
// blocks another. The successful part of the batch is written in one
// snapshot. The returned error is reserved for failures of the whole batch,
// which also free requestID for a retry. The RequestID of individual items
// is ignored.
func (s *LedgerService) ConsumeBatch(ctx context.Context, requestID string, items []ConsumeCommand) ([]ConsumeOutcome, error) {
	if err := s.claimRequest(ctx, requestID); err != nil {
		return nil, err
	}

	outcomes := make([]ConsumeOutcome, len(items))
	err := s.mutate(ctx, opConsumeBatch, func(m *mutation) error {
		for i, item := range items {
			outcomes[i] = ConsumeOutcome{SKU: domain.NormalizeSKU(item.SKU), Requested: item.Quantity}

			sku, err := validateConsume(item)
			if err != nil {
				outcomes[i].Err = err
				continue
			}
			tx, err := s.consume(m, sku, item)
			if err != nil {
				outcomes[i].Err = err
				continue
			}
			outcomes[i].Transaction = &tx
		}
		return nil
	})
	if err != nil {
		s.releaseRequest(ctx, requestID)
		return nil, err
	}

	for _, o := range outcomes {
		s.metrics.ObserveOperation(opConsume, outcome(o.Err))
		if o.Err != nil {
			s.logRejected(opConsume, o.SKU, o.Requested, o.Err)
		}
	}
	return outcomes, nil
}

func (s *LedgerService) consume(m *mutation, sku string, cmd ConsumeCommand) (domain.Transaction, error) {
	res, err := fefo.Consume(m.state.stock[sku], cmd.Quantity)
	if err != nil {
		var short *domain.InsufficientStockError
		if errors.As(err, &short) {
			short.SKU = sku
		}
		return domain.Transaction{}, err
	}

	now := s.now()
	tx := domain.Transaction{
		ID:           s.newID(),
		SKU:          sku,
		Confidence:   cmd.Confidence,
		SnapshotRef:  cmd.SnapshotRef,
		Timestamp:    now,
		Quantity:     cmd.Quantity,
		ConsumedLots: res.Breakdown,
		Actor:        domain.ActorOrUnknown(cmd.Actor),
	}

	m.state.stock[sku] = res.Lots
	m.state.history = slices.Insert(m.state.history, 0, tx)
	m.touch(sku)
	m.emit(domain.LedgerEvent{
		Type:          domain.EventStockConsumed,
		SKU:           sku,
		Quantity:      tx.Quantity,
		TransactionID: tx.ID,
		Actor:         tx.Actor,
		OccurredAt:    now,
	})
	return tx, nil
}

// Restock adds a new lot to the SKU.
func (s *LedgerService) Restock(ctx context.Context, cmd RestockCommand) (domain.Lot, error) {
	sku := domain.NormalizeSKU(cmd.SKU)
	if sku == "" {
		return domain.Lot{}, ErrEmptySKU
	}
	if cmd.Quantity <= 0 {
		err := &domain.InvalidQuantityError{Value: cmd.Quantity}
		s.metrics.ObserveOperation(opRestock, outcome(err))
		return domain.Lot{}, err
	}

	var lot domain.Lot
	err := s.mutate(ctx, opRestock, func(m *mutation) error {
		now := s.now()
		lot = domain.Lot{
			LotID:      strings.TrimSpace(cmd.LotID),
			Quantity:   cmd.Quantity,
			ReceivedAt: cmd.ReceivedAt.UTC(),
		}
		if lot.LotID == "" {
			lot.LotID = s.lotID("lot", now)
		} else if slices.ContainsFunc(m.state.stock[sku], func(l domain.Lot) bool { return l.LotID == lot.LotID }) {
			return fmt.Errorf("restock %s lot %s: %w", sku, lot.LotID, ErrDuplicateLotID)
		}
		if cmd.ReceivedAt.IsZero() {
			lot.ReceivedAt = now
		}

		s.restock(m, sku, lot, domain.ActorOrUnknown(cmd.Actor), "")
		return nil
	})
	if err != nil {
		s.logRejected(opRestock, sku, cmd.Quantity, err)
		return domain.Lot{}, err
	}

	s.log.Info().Str("sku", sku).Str("lot_id", lot.LotID).Int("quantity", lot.Quantity).Msg("lot added")
	return lot, nil
}

func (s *LedgerService) restock(m *mutation, sku string, lot domain.Lot, actor, transactionID string) {
	m.state.stock[sku] = m.state.stock[sku].Prepend(lot)
	m.touch(sku)
	m.emit(domain.LedgerEvent{
		Type:          domain.EventStockRestocked,
		SKU:           sku,
		Quantity:      lot.Quantity,
		LotID:         lot.LotID,
		TransactionID: transactionID,
		Actor:         actor,
		OccurredAt:    s.now(),
	})
}

// Correct reverses a recorded consumption and applies the corrected one.
//
// The originally consumed quantity is always put back on the original SKU as
// a new correction lot. The new quantity is then consumed from the new label,
// seeing that restock. If the new label is short the restock is kept, the
// transaction is left unmodified and a *domain.CorrectionFailForwardError is
// returned so the stock can be reconciled by hand. The restock is never
// rolled back.
func (s *LedgerService) Correct(ctx context.Context, cmd CorrectCommand) (*domain.Transaction, error) {
	newSKU := domain.NormalizeSKU(cmd.NewLabel)
	if newSKU == "" {
		return nil, ErrEmptySKU
	}
	if cmd.NewQuantity < 0 {
		err := &domain.InvalidQuantityError{Value: cmd.NewQuantity}
		s.metrics.ObserveOperation(opCorrect, outcome(err))
		return nil, err
	}
	actor := domain.ActorOrUnknown(cmd.Actor)

	var corrected domain.Transaction
	err := s.mutate(ctx, opCorrect, func(m *mutation) error {
		idx := slices.IndexFunc(m.state.history, func(tx domain.Transaction) bool {
			return tx.ID == cmd.TransactionID
		})
		if idx < 0 {
			return &domain.UnknownTransactionError{ID: cmd.TransactionID}
		}

		prev := m.state.history[idx]
		origSKU := domain.NormalizeSKU(prev.SKU)
		if origSKU == "" {
			return fmt.Errorf("transaction %s: %w", prev.ID, ErrEmptySKU)
		}
		now := s.now()

		restocked := domain.Lot{
			LotID:      s.lotID("correction_restock", now),
			Quantity:   prev.Quantity,
			ReceivedAt: now,
		}
		if restocked.Quantity > 0 {
			s.restock(m, origSKU, restocked, actor, prev.ID)
		}

		breakdown := []domain.LotConsumption{}
		if cmd.NewQuantity > 0 {
			res, err := fefo.Consume(m.state.stock[newSKU], cmd.NewQuantity)
			if err != nil {
				var short *domain.InsufficientStockError
				if !errors.As(err, &short) {
					return err
				}
				short.SKU = newSKU
				m.emit(domain.LedgerEvent{
					Type:          domain.EventCorrectionFailForward,
					SKU:           origSKU,
					Quantity:      restocked.Quantity,
					LotID:         restocked.LotID,
					TransactionID: prev.ID,
					Actor:         actor,
					OccurredAt:    now,
				})
				return &domain.CorrectionFailForwardError{
					TransactionID:     prev.ID,
					RestockedSKU:      origSKU,
					RestockedLotID:    restocked.LotID,
					RestockedQuantity: restocked.Quantity,
					Shortage:          short,
				}
			}
			m.state.stock[newSKU] = res.Lots
			m.touch(newSKU)
			breakdown = res.Breakdown
		}

		updated := prev.Clone()
		updated.SKU = newSKU
		updated.Quantity = cmd.NewQuantity
		updated.ConsumedLots = breakdown
		updated.Correction = &domain.Correction{
			CorrectedAt:      now,
			CorrectedBy:      actor,
			PreviousLabel:    prev.SKU,
			PreviousQuantity: prev.Quantity,
		}
		m.state.history[idx] = updated
		m.dirty = true
		m.emit(domain.LedgerEvent{
			Type:          domain.EventTransactionCorrected,
			SKU:           newSKU,
			Quantity:      updated.Quantity,
			TransactionID: updated.ID,
			Actor:         actor,
			OccurredAt:    now,
		})

		corrected = updated
		return nil
	})
	if err != nil {
		var ff *domain.CorrectionFailForwardError
		if errors.As(err, &ff) {
			s.log.Warn().
				Str("transaction_id", ff.TransactionID).
				Str("restocked_sku", ff.RestockedSKU).
				Str("lot_id", ff.RestockedLotID).
				Int("restocked_quantity", ff.RestockedQuantity).
				Str("sku", ff.Shortage.SKU).
				Int("requested", ff.Shortage.Requested).
				Int("available", ff.Shortage.Available).
				Msg("correction failed forward, manual reconciliation required")
		} else {
			s.logRejected(opCorrect, newSKU, cmd.NewQuantity, err)
		}
		return nil, err
	}

	s.log.Info().
		Str("transaction_id", corrected.ID).
		Str("previous_sku", corrected.PreviousLabel).
		Str("sku", corrected.SKU).
		Int("quantity", corrected.Quantity).
		Msg("transaction corrected")
	return &corrected, nil
}

// ClearHistory drops every transaction record. Stock is not touched.
func (s *LedgerService) ClearHistory(ctx context.Context, actor string) error {
	return s.mutate(ctx, opClearHistory, func(m *mutation) error {
		m.state.history = []domain.Transaction{}
		m.dirty = true
		m.emit(domain.LedgerEvent{
			Type:       domain.EventHistoryCleared,
			Actor:      domain.ActorOrUnknown(actor),
			OccurredAt: s.now(),
		})
		return nil
	})
}

// GetEventQueue returns the events of persisted mutations. It is nil when
// the service was built without an event queue.
func (s *LedgerService) GetEventQueue() <-chan domain.LedgerEvent {
	return s.events
}

// Close closes the event queue. No operation may run after Close.
func (s *LedgerService) Close() {
	if s.events != nil {
		close(s.events)
	}
}

func (s *LedgerService) enqueue(events []domain.LedgerEvent) {
	if s.events == nil {
		return
	}
	for _, ev := range events {
		ev.ID = s.newID()
		select {
		case s.events <- ev:
		default:
			s.metrics.EventDropped()
			s.log.Warn().Str("event_type", string(ev.Type)).Str("sku", ev.SKU).Msg("event queue full, event dropped")
		}
	}
}

func (s *LedgerService) claimRequest(ctx context.Context, requestID string) error {
	if requestID == "" || s.idem == nil {
		return nil
	}

	ok, err := s.idem.SetIdempotency(ctx, idempotencyKeyPrefix+requestID)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return ErrDuplicateRequest
	}
	return nil
}

// releaseRequest frees the request id of an operation that changed nothing,
// so the caller may retry with the same id.
func (s *LedgerService) releaseRequest(ctx context.Context, requestID string) {
	if requestID == "" || s.idem == nil {
		return
	}

	if err := s.idem.ReleaseIdempotency(context.WithoutCancel(ctx), idempotencyKeyPrefix+requestID); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("failed to release request id")
	}
}

func (s *LedgerService) lotID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(s.newID(), "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}

func (s *LedgerService) logRejected(op, sku string, quantity int, err error) {
	ev := s.log.Warn()
	if errors.Is(err, domain.ErrPersistence) {
		ev = s.log.Error()
	}
	ev.Err(err).Str("operation", op).Str("sku", sku).Int("quantity", quantity).Msg("ledger operation rejected")
}

func validateConsume(cmd ConsumeCommand) (string, error) {
	sku := domain.NormalizeSKU(cmd.SKU)
	if sku == "" {
		return "", ErrEmptySKU
	}
	if cmd.Quantity <= 0 {
		return "", &domain.InvalidQuantityError{Value: cmd.Quantity}
	}
	return sku, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrCorrectionFailForward):
		return "fail_forward"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, domain.ErrUnknownTransaction):
		return "unknown_transaction"
	case errors.Is(err, ErrEmptySKU), errors.Is(err, ErrDuplicateLotID):
		return "invalid_request"
	default:
		return "error"
	}
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string) {}
func (noopMetrics) SetStockLevel(string, int) {}
func (noopMetrics) EventDropped() {}
