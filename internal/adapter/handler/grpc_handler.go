package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
	"github.com/RicardoFernandes2004/LumePatch/internal/core/service"
)

const (
	CodeInvalidRequest     = "invalid_request"
	CodeInsufficientStock  = "insufficient_stock"
	CodeFailForward        = "fail_forward"
	CodeDuplicateRequest   = "duplicate_request"
	CodeUnknownTransaction = "unknown_transaction"
	CodeNothingPending     = "nothing_pending"
	CodePersistence        = "persistence_failure"
	CodeInternal           = "internal"
)

// GRPCHandler reports business failures inside the response with a nil RPC
// error; only transport problems surface as gRPC status errors.
type GRPCHandler struct {
	ledger   *service.LedgerService
	intake   *service.IntakeService
	validate *validator.Validate
	log      zerolog.Logger
}

func NewGRPCHandler(ledger *service.LedgerService, intake *service.IntakeService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		ledger:   ledger,
		intake:   intake,
		validate: validator.New(),
		log:      logger.With().Str("component", "grpc").Logger(),
	}
}

func (h *GRPCHandler) Consume(ctx context.Context, req *ConsumeRequest) (*ConsumeResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return &ConsumeResponse{Success: false, Message: validationMessage(err), Code: CodeInvalidRequest}, nil
	}

	tx, err := h.ledger.Consume(ctx, req.command())
	if err != nil {
		code, message := h.classify(err)
		return &ConsumeResponse{Success: false, Message: message, Code: code}, nil
	}

	return &ConsumeResponse{Success: true, Message: "stock consumed", Transaction: tx}, nil
}

func (h *GRPCHandler) ConsumeBatch(ctx context.Context, req *ConsumeBatchRequest) (*BatchResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return &BatchResponse{Success: false, Message: validationMessage(err), Code: CodeInvalidRequest}, nil
	}

	items := make([]service.ConsumeCommand, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, item.command())
	}

	outcomes, err := h.ledger.ConsumeBatch(ctx, req.RequestID, items)
	if err != nil {
		code, message := h.classify(err)
		return &BatchResponse{Success: false, Message: message, Code: code}, nil
	}

	return &BatchResponse{Success: true, Message: "batch evaluated", Outcomes: toOutcomes(outcomes)}, nil
}

func (h *GRPCHandler) Restock(ctx context.Context, req *RestockRequest) (*RestockResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return &RestockResponse{Success: false, Message: validationMessage(err), Code: CodeInvalidRequest}, nil
	}
	receivedAt, err := domain.ParseTimestamp(req.ReceivedAt)
	if err != nil {
		return &RestockResponse{Success: false, Message: "invalid receivedAt", Code: CodeInvalidRequest}, nil
	}

	lot, err := h.ledger.Restock(ctx, service.RestockCommand{
		SKU:        req.SKU,
		Quantity:   req.Quantity,
		LotID:      req.LotID,
		ReceivedAt: receivedAt,
		Actor:      req.User,
	})
	if err != nil {
		code, message := h.classify(err)
		return &RestockResponse{Success: false, Message: message, Code: code}, nil
	}

	return &RestockResponse{Success: true, Message: "lot added", Lot: &lot}, nil
}

func (h *GRPCHandler) Correct(ctx context.Context, req *CorrectRequest) (*CorrectResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return &CorrectResponse{Success: false, Message: validationMessage(err), Code: CodeInvalidRequest}, nil
	}

	tx, err := h.ledger.Correct(ctx, service.CorrectCommand{
		TransactionID: req.TransactionID,
		NewLabel:      req.Label,
		NewQuantity:   req.Quantity,
		Actor:         req.User,
	})
	if err != nil {
		code, message := h.classify(err)
		resp := &CorrectResponse{Success: false, Message: message, Code: code}

		var ff *domain.CorrectionFailForwardError
		if errors.As(err, &ff) {
			resp.ManualReconciliation = true
			resp.FailForward = ff
		}
		return resp, nil
	}

	return &CorrectResponse{Success: true, Message: "transaction corrected", Transaction: tx}, nil
}

func (h *GRPCHandler) GetStock(ctx context.Context, req *StockRequest) (*StockResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return &StockResponse{Success: false, Message: validationMessage(err), Code: CodeInvalidRequest}, nil
	}

	sku := domain.NormalizeSKU(req.SKU)
	lots, err := h.ledger.ListLots(ctx, sku)
	if err != nil {
		code, message := h.classify(err)
		return &StockResponse{Success: false, Message: message, Code: code}, nil
	}
	if lots == nil {
		lots = []domain.Lot{}
	}

	return &StockResponse{Success: true, Message: "ok", Level: SKULevel{
		SKU:      sku,
		Quantity: domain.Lots(lots).TotalQuantity(),
		Lots:     lots,
	}}, nil
}

func (h *GRPCHandler) Summary(ctx context.Context, req *SummaryRequest) (*SummaryResponse, error) {
	summary, err := h.ledger.Summary(ctx)
	if err != nil {
		code, message := h.classify(err)
		return &SummaryResponse{Success: false, Message: message, Code: code}, nil
	}
	return &SummaryResponse{Success: true, Message: "ok", Summary: summary}, nil
}

func (h *GRPCHandler) SubmitDetections(ctx context.Context, req *SubmitDetectionsRequest) (*SubmitDetectionsResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return &SubmitDetectionsResponse{Success: false, Message: validationMessage(err)}, nil
	}

	cycle := make([]service.Detection, 0, len(req.Detections))
	for _, d := range req.Detections {
		cycle = append(cycle, service.Detection{Label: d.Label, Probability: d.Probability, ImageRef: d.ImageRef})
	}

	accepted, pending := h.intake.Submit(cycle)
	return &SubmitDetectionsResponse{
		Success:  true,
		Message:  submitMessage(accepted, pending),
		Pending:  pending,
		Accepted: accepted,
	}, nil
}

func (h *GRPCHandler) ConfirmDetections(ctx context.Context, req *ConfirmDetectionsRequest) (*BatchResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return &BatchResponse{Success: false, Message: validationMessage(err), Code: CodeInvalidRequest}, nil
	}

	outcomes, err := h.intake.Confirm(ctx, req.RequestID, req.Quantity, req.User)
	if err != nil {
		code, message := h.classify(err)
		return &BatchResponse{Success: false, Message: message, Code: code}, nil
	}

	return &BatchResponse{Success: true, Message: "detections confirmed", Outcomes: toOutcomes(outcomes)}, nil
}

func (h *GRPCHandler) History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	history, err := h.ledger.History(ctx)
	if err != nil {
		code, message := h.classify(err)
		return &HistoryResponse{Success: false, Message: message, Code: code}, nil
	}
	return &HistoryResponse{Success: true, Message: "ok", Transactions: history}, nil
}

func (h *GRPCHandler) classify(err error) (code, message string) {
	switch {
	case errors.Is(err, domain.ErrCorrectionFailForward):
		return CodeFailForward, err.Error()
	case errors.Is(err, service.ErrDuplicateRequest):
		return CodeDuplicateRequest, "duplicate request"
	case errors.Is(err, domain.ErrInsufficientStock):
		return CodeInsufficientStock, err.Error()
	case errors.Is(err, service.ErrNothingPending):
		return CodeNothingPending, err.Error()
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, service.ErrEmptySKU),
		errors.Is(err, service.ErrDuplicateLotID):
		return CodeInvalidRequest, err.Error()
	case errors.Is(err, domain.ErrUnknownTransaction):
		return CodeUnknownTransaction, err.Error()
	case errors.Is(err, domain.ErrPersistence):
		h.log.Error().Err(err).Msg("persistence failure")
		return CodePersistence, "ledger state could not be saved"
	default:
		h.log.Error().Err(err).Msg("request failed")
		return CodeInternal, "internal error"
	}
}
