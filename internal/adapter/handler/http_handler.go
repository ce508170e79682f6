package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
	"github.com/RicardoFernandes2004/LumePatch/internal/core/service"
)

const exportFilename = "ledger_history.json"

type HTTPHandler struct {
	ledger   *service.LedgerService
	intake   *service.IntakeService
	validate *validator.Validate
	log      zerolog.Logger
}

// Response is the envelope of every JSON reply. ManualReconciliation is set
// when a correction failed forward.
type Response struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	Data                 any    `json:"data,omitempty"`
	ManualReconciliation bool   `json:"manualReconciliation,omitempty"`
}

type RestockHTTPRequest struct {
	LotID      string `json:"lotId"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	ReceivedAt string `json:"receivedAt"`
	User       string `json:"user"`
}

type DetectionInput struct {
	Label       string  `json:"label" validate:"required"`
	Probability float64 `json:"probability" validate:"gte=0,lte=1"`
	ImageRef    string  `json:"imageRef"`
}

type CorrectionHTTPRequest struct {
	Label    string `json:"label" validate:"required"`
	Quantity *int   `json:"quantity" validate:"required,gte=0"`
	User     string `json:"user"`
}

type SKULevel struct {
	SKU      string       `json:"sku"`
	Quantity int          `json:"quantity"`
	Lots     []domain.Lot `json:"lots"`
}

type SubmitResult struct {
	Pending  bool                `json:"pending"`
	Accepted []service.Detection `json:"accepted"`
}

type Outcome struct {
	SKU         string              `json:"sku"`
	Requested   int                 `json:"requested"`
	Success     bool                `json:"success"`
	Message     string              `json:"message,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

func NewHTTPHandler(ledger *service.LedgerService, intake *service.IntakeService, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		ledger:   ledger,
		intake:   intake,
		validate: validator.New(),
		log:      logger.With().Str("component", "http").Logger(),
	}
}

func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stock", h.Summary).Methods(http.MethodGet)
	api.HandleFunc("/stock/{sku}", h.GetSKU).Methods(http.MethodGet)
	api.HandleFunc("/stock/{sku}/lots", h.Restock).Methods(http.MethodPost)
	api.HandleFunc("/consume", h.Consume).Methods(http.MethodPost)
	api.HandleFunc("/consume/batch", h.ConsumeBatch).Methods(http.MethodPost)
	api.HandleFunc("/detections", h.SubmitDetections).Methods(http.MethodPost)
	api.HandleFunc("/detections/pending", h.PendingDetections).Methods(http.MethodGet)
	api.HandleFunc("/detections/pending", h.CancelDetections).Methods(http.MethodDelete)
	api.HandleFunc("/detections/confirm", h.ConfirmDetections).Methods(http.MethodPost)
	api.HandleFunc("/transactions", h.History).Methods(http.MethodGet)
	api.HandleFunc("/transactions", h.ClearHistory).Methods(http.MethodDelete)
	api.HandleFunc("/transactions/export", h.ExportHistory).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}/correction", h.Correct).Methods(http.MethodPost)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.Summary(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok", Data: summary})
}

func (h *HTTPHandler) GetSKU(w http.ResponseWriter, r *http.Request) {
	sku := domain.NormalizeSKU(mux.Vars(r)["sku"])

	lots, err := h.ledger.ListLots(r.Context(), sku)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if lots == nil {
		lots = []domain.Lot{}
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok", Data: SKULevel{
		SKU:      sku,
		Quantity: domain.Lots(lots).TotalQuantity(),
		Lots:     lots,
	}})
}

func (h *HTTPHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req RestockHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	receivedAt, err := domain.ParseTimestamp(req.ReceivedAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid receivedAt"})
		return
	}

	lot, err := h.ledger.Restock(r.Context(), service.RestockCommand{
		SKU:        mux.Vars(r)["sku"],
		Quantity:   req.Quantity,
		LotID:      req.LotID,
		ReceivedAt: receivedAt,
		Actor:      req.User,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "lot added", Data: lot})
}

func (h *HTTPHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.ledger.Consume(r.Context(), req.command())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "stock consumed", Data: tx})
}

func (h *HTTPHandler) ConsumeBatch(w http.ResponseWriter, r *http.Request) {
	var req ConsumeBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	items := make([]service.ConsumeCommand, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, item.command())
	}

	outcomes, err := h.ledger.ConsumeBatch(r.Context(), req.RequestID, items)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Message: "batch evaluated", Data: toOutcomes(outcomes)})
}

func (h *HTTPHandler) SubmitDetections(w http.ResponseWriter, r *http.Request) {
	var req SubmitDetectionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	cycle := make([]service.Detection, 0, len(req.Detections))
	for _, d := range req.Detections {
		cycle = append(cycle, service.Detection{Label: d.Label, Probability: d.Probability, ImageRef: d.ImageRef})
	}

	accepted, pending := h.intake.Submit(cycle)
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: submitMessage(accepted, pending),
		Data:    SubmitResult{Pending: pending, Accepted: accepted},
	})
}

func submitMessage(accepted []service.Detection, pending bool) string {
	switch {
	case pending:
		return "detections awaiting confirmation"
	case len(accepted) > 0:
		return "confirmation outstanding, cycle dropped"
	default:
		return "no detection accepted"
	}
}

func (h *HTTPHandler) PendingDetections(w http.ResponseWriter, r *http.Request) {
	pending := h.intake.Pending()
	if pending == nil {
		pending = []service.Detection{}
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok", Data: pending})
}

func (h *HTTPHandler) CancelDetections(w http.ResponseWriter, r *http.Request) {
	h.intake.Cancel()
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "pending detections discarded"})
}

func (h *HTTPHandler) ConfirmDetections(w http.ResponseWriter, r *http.Request) {
	var req ConfirmDetectionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	outcomes, err := h.intake.Confirm(r.Context(), req.RequestID, req.Quantity, req.User)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Message: "detections confirmed", Data: toOutcomes(outcomes)})
}

func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.ledger.History(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok", Data: history})
}

func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.Transaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok", Data: tx})
}

func (h *HTTPHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.ledger.ExportHistory(r.Context(), &buf); err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *HTTPHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.ClearHistory(r.Context(), r.URL.Query().Get("user")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "history cleared"})
}

func (h *HTTPHandler) Correct(w http.ResponseWriter, r *http.Request) {
	var req CorrectionHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.ledger.Correct(r.Context(), service.CorrectCommand{
		TransactionID: mux.Vars(r)["id"],
		NewLabel:      req.Label,
		NewQuantity:   *req.Quantity,
		Actor:         req.User,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Message: "transaction corrected", Data: tx})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Message: "invalid request body",
		})
		return false
	}

	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Message: validationMessage(err),
		})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return "invalid field " + fe.Namespace() + ": failed " + fe.Tag()
	}
	return "missing required fields"
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	resp := Response{Success: false, Message: err.Error()}
	status := http.StatusInternalServerError

	var ff *domain.CorrectionFailForwardError
	switch {
	case errors.As(err, &ff):
		status = http.StatusConflict
		resp.ManualReconciliation = true
		resp.Data = ff
	case errors.Is(err, service.ErrDuplicateRequest):
		status = http.StatusConflict
		resp.Message = "duplicate request"
	case errors.Is(err, domain.ErrInsufficientStock):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNothingPending):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, service.ErrEmptySKU),
		errors.Is(err, service.ErrDuplicateLotID):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownTransaction):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrPersistence):
		status = http.StatusServiceUnavailable
		resp.Message = "ledger state could not be saved"
		h.log.Error().Err(err).Msg("persistence failure")
	default:
		resp.Message = "internal error"
		h.log.Error().Err(err).Msg("request failed")
	}

	writeJSON(w, status, resp)
}

func (req ConsumeRequest) command() service.ConsumeCommand {
	return service.ConsumeCommand{
		RequestID:   req.RequestID,
		SKU:         req.SKU,
		Quantity:    req.Quantity,
		Actor:       req.User,
		SnapshotRef: req.Image,
		Confidence:  req.Score,
	}
}

func toOutcomes(outcomes []service.ConsumeOutcome) []Outcome {
	out := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		item := Outcome{
			SKU:         o.SKU,
			Requested:   o.Requested,
			Success:     o.Err == nil,
			Transaction: o.Transaction,
		}
		if o.Err != nil {
			item.Message = o.Err.Error()
		}
		out = append(out, item)
	}
	return out
}

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Instrument records method, route template, status and latency of every
// request routed by mux.
func Instrument(rec RequestRecorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			rec.RecordHTTPRequest(r.Method, route, sw.status, time.Since(start))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
