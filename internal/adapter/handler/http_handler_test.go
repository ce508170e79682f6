package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RicardoFernandes2004/LumePatch/internal/adapter/storage"
	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
	"github.com/RicardoFernandes2004/LumePatch/internal/core/service"
)

var received = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

type testLedger struct {
	ledger *service.LedgerService
	intake *service.IntakeService
	store  *storage.MemoryStore
}

func newTestLedger(t *testing.T) testLedger {
	t.Helper()

	store := storage.NewMemoryStore()
	repo := storage.NewLedgerRepository(store)
	require.NoError(t, repo.Save(context.Background(), domain.Snapshot{
		Stock: domain.StockLots{
			"luvas":   {{LotID: "L1", Quantity: 20, ReceivedAt: received}},
			"mascara": {{LotID: "M1", Quantity: 10, ReceivedAt: received}},
		},
	}))

	ledger := service.NewLedgerService(repo, storage.NewLocalLock(), service.LedgerConfig{
		Catalog:           []string{"luvas", "mascara"},
		LowStockThreshold: service.DefaultLowStockThreshold,
	}, zerolog.Nop(), service.WithIdempotency(store))
	require.NoError(t, ledger.Load(context.Background()))

	intake := service.NewIntakeService(ledger, service.IntakeConfig{}, zerolog.Nop())
	return testLedger{ledger: ledger, intake: intake, store: store}
}

func newTestRouter(t *testing.T) (*mux.Router, testLedger) {
	env := newTestLedger(t)
	r := mux.NewRouter()
	NewHTTPHandler(env.ledger, env.intake, zerolog.Nop()).RegisterRoutes(r)
	return r, env
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, &payload))

	var resp Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestHTTP_HealthCheck(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, _ := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHTTP_Consume(t *testing.T) {
	r, env := newTestRouter(t)

	rec, resp := do(t, r, http.MethodPost, "/api/consume", map[string]any{
		"sku": "Luvas", "quantity": 15, "user": "ana", "score": 0.92,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)

	total, err := env.ledger.TotalQuantity(context.Background(), "luvas")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestHTTP_ConsumeErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed body", "not-an-object", http.StatusBadRequest},
		{"missing sku", map[string]any{"quantity": 1}, http.StatusBadRequest},
		{"zero quantity", map[string]any{"sku": "luvas", "quantity": 0}, http.StatusBadRequest},
		{"score out of range", map[string]any{"sku": "luvas", "quantity": 1, "score": 1.5}, http.StatusBadRequest},
		{"insufficient stock", map[string]any{"sku": "luvas", "quantity": 25}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, env := newTestRouter(t)

			rec, resp := do(t, r, http.MethodPost, "/api/consume", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, resp.Success)

			total, _ := env.ledger.TotalQuantity(context.Background(), "luvas")
			assert.Equal(t, 20, total)
		})
	}
}

func TestHTTP_ConsumeDuplicateRequest(t *testing.T) {
	r, _ := newTestRouter(t)
	body := map[string]any{"request_id": "req-1", "sku": "luvas", "quantity": 1}

	rec, _ := do(t, r, http.MethodPost, "/api/consume", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := do(t, r, http.MethodPost, "/api/consume", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate request", resp.Message)
}

func TestHTTP_PersistenceFailure(t *testing.T) {
	r, env := newTestRouter(t)
	env.store.FailWrites(errors.New("disk full"))

	rec, resp := do(t, r, http.MethodPost, "/api/consume", map[string]any{"sku": "luvas", "quantity": 1})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
}

func TestHTTP_RestockAndGetSKU(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, _ := do(t, r, http.MethodPost, "/api/stock/luvas/lots", map[string]any{
		"lotId": "NF-9", "quantity": 5, "receivedAt": "2025-04-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = do(t, r, http.MethodGet, "/api/stock/Luvas", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data SKULevel `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 25, body.Data.Quantity)
	require.Len(t, body.Data.Lots, 2)
	assert.Equal(t, "NF-9", body.Data.Lots[0].LotID)

	rec, _ = do(t, r, http.MethodPost, "/api/stock/luvas/lots", map[string]any{"lotId": "NF-9", "quantity": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/stock/luvas/lots", map[string]any{"quantity": 5, "receivedAt": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_Summary(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, _ := do(t, r, http.MethodGet, "/api/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data service.StockSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 30, body.Data.TotalQuantity)
	assert.Equal(t, []string{"mascara"}, body.Data.LowStock)
}

func TestHTTP_DetectionFlow(t *testing.T) {
	r, env := newTestRouter(t)

	rec, resp := do(t, r, http.MethodPost, "/api/detections", map[string]any{
		"detections": []map[string]any{
			{"label": "luvas", "probability": 0.91},
			{"label": "none", "probability": 0.99},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "detections awaiting confirmation", resp.Message)

	rec, resp = do(t, r, http.MethodPost, "/api/detections", map[string]any{
		"detections": []map[string]any{{"label": "mascara", "probability": 0.95}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmation outstanding, cycle dropped", resp.Message)

	rec, _ = do(t, r, http.MethodGet, "/api/detections/pending", nil)
	assert.Contains(t, rec.Body.String(), `"label":"luvas"`)

	rec, _ = do(t, r, http.MethodPost, "/api/detections/confirm", map[string]any{"quantity": 2, "user": "ana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	total, _ := env.ledger.TotalQuantity(context.Background(), "luvas")
	assert.Equal(t, 18, total)

	rec, _ = do(t, r, http.MethodPost, "/api/detections/confirm", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHTTP_ConsumeBatchInvalidItemDoesNotBlockOthers(t *testing.T) {
	r, env := newTestRouter(t)

	rec, _ := do(t, r, http.MethodPost, "/api/consume/batch", map[string]any{
		"items": []map[string]any{
			{"sku": "luvas", "quantity": 2},
			{"sku": "mascara", "quantity": 0},
			{"sku": "", "quantity": 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data []Outcome `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 3)
	assert.True(t, resp.Data[0].Success)
	assert.False(t, resp.Data[1].Success)
	assert.False(t, resp.Data[2].Success)

	luvas, _ := env.ledger.TotalQuantity(context.Background(), "luvas")
	mascara, _ := env.ledger.TotalQuantity(context.Background(), "mascara")
	assert.Equal(t, 18, luvas)
	assert.Equal(t, 10, mascara)

	rec, _ = do(t, r, http.MethodPost, "/api/consume/batch", map[string]any{"items": []map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_ConfirmNonPositiveQuantityMeansOne(t *testing.T) {
	r, env := newTestRouter(t)
	env.intake.Submit([]service.Detection{{Label: "luvas", Probability: 0.9}})

	rec, _ := do(t, r, http.MethodPost, "/api/detections/confirm", map[string]any{"quantity": -1, "user": "ana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	total, _ := env.ledger.TotalQuantity(context.Background(), "luvas")
	assert.Equal(t, 19, total)
}

func TestHTTP_CancelDetections(t *testing.T) {
	r, env := newTestRouter(t)
	env.intake.Submit([]service.Detection{{Label: "luvas", Probability: 0.9}})

	rec, _ := do(t, r, http.MethodDelete, "/api/detections/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.intake.Pending())
}

func TestHTTP_CorrectFailForward(t *testing.T) {
	r, env := newTestRouter(t)
	ctx := context.Background()

	tx, err := env.ledger.Consume(ctx, service.ConsumeCommand{SKU: "mascara", Quantity: 3})
	require.NoError(t, err)

	rec, resp := do(t, r, http.MethodPost, "/api/transactions/"+tx.ID+"/correction", map[string]any{
		"label": "luvas", "quantity": 30, "user": "bia",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, resp.ManualReconciliation)
	assert.Contains(t, rec.Body.String(), `"restockedSku":"mascara"`)

	mascara, _ := env.ledger.TotalQuantity(ctx, "mascara")
	assert.Equal(t, 10, mascara)
}

func TestHTTP_Correct(t *testing.T) {
	r, env := newTestRouter(t)
	ctx := context.Background()

	tx, err := env.ledger.Consume(ctx, service.ConsumeCommand{SKU: "mascara", Quantity: 3})
	require.NoError(t, err)

	rec, resp := do(t, r, http.MethodPost, "/api/transactions/"+tx.ID+"/correction", map[string]any{"label": "luvas", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)

	rec, _ = do(t, r, http.MethodPost, "/api/transactions/"+tx.ID+"/correction", map[string]any{"label": "luvas"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "quantity is required")

	rec, _ = do(t, r, http.MethodPost, "/api/transactions/missing/correction", map[string]any{"label": "luvas", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, r, http.MethodGet, "/api/transactions/"+tx.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"previousLabel":"mascara"`)
}

func TestHTTP_HistoryExportAndClear(t *testing.T) {
	r, env := newTestRouter(t)
	ctx := context.Background()

	_, err := env.ledger.Consume(ctx, service.ConsumeCommand{SKU: "luvas", Quantity: 1})
	require.NoError(t, err)

	rec, _ := do(t, r, http.MethodGet, "/api/transactions/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), exportFilename)
	var exported []domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	assert.Len(t, exported, 1)

	rec, _ = do(t, r, http.MethodDelete, "/api/transactions?user=ana", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, r, http.MethodGet, "/api/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"ok","data":[]}`, rec.Body.String())
}

type recordedRequest struct {
	method, route string
	status        int
}

type mockRecorder struct {
	requests []recordedRequest
}

func (m *mockRecorder) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.requests = append(m.requests, recordedRequest{method, route, status})
}

func TestInstrument(t *testing.T) {
	r, _ := newTestRouter(t)
	recorder := &mockRecorder{}
	r.Use(Instrument(recorder))

	do(t, r, http.MethodGet, "/api/stock/luvas", nil)
	do(t, r, http.MethodPost, "/api/consume", map[string]any{"sku": "luvas", "quantity": 99})

	require.Len(t, recorder.requests, 2)
	assert.Equal(t, recordedRequest{http.MethodGet, "/api/stock/{sku}", http.StatusOK}, recorder.requests[0])
	assert.Equal(t, recordedRequest{http.MethodPost, "/api/consume", http.StatusConflict}, recorder.requests[1])
}
