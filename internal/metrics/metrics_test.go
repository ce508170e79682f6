package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *LedgerMetrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestLedgerMetrics(t *testing.T) {
	m := New()

	m.ObserveOperation("consume", "success")
	m.ObserveOperation("consume", "success")
	m.ObserveOperation("consume", "insufficient_stock")
	m.SetStockLevel("luvas", 12)
	m.SetStockLevel("luvas", 9)
	m.EventDropped()
	m.RecordEventPublished("stock.consumed", false)

	body := scrape(t, m)
	assert.Contains(t, body, `ledger_operations_total{operation="consume",outcome="success"} 2`)
	assert.Contains(t, body, `ledger_operations_total{operation="consume",outcome="insufficient_stock"} 1`)
	assert.Contains(t, body, `ledger_stock_quantity{sku="luvas"} 9`)
	assert.Contains(t, body, `ledger_events_dropped_total 1`)
	assert.Contains(t, body, `ledger_events_published_total{event_type="stock.consumed",status="error"} 1`)
}

func TestLedgerMetrics_HTTPRequests(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("POST", "/api/consume", 201, 15*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `ledger_http_requests_total{method="POST",route="/api/consume",status="201"} 1`)
	assert.Contains(t, body, `ledger_http_request_duration_seconds_count{method="POST",route="/api/consume"} 1`)
}
