package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ordena/ordena/internal/engine"
	"github.com/ordena/ordena/internal/relayqueue"
	"github.com/ordena/ordena/pkg/api"
	"github.com/ordena/ordena/pkg/orderflow"
	"github.com/ordena/ordena/pkg/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testHarness struct {
	engine   api.Engine
	queue    relayqueue.Queue
	consumer *worker.Consumer
	router   *gin.Engine
}

func newHarness(t *testing.T, timeout time.Duration) *testHarness {
	t.Helper()

	eng := engine.NewInMemoryEngine()
	t.Cleanup(func() { _ = eng.Close() })
	if err := orderflow.Register(eng, orderflow.Config{PaymentTimeout: timeout}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	queue := relayqueue.NewInMemoryQueue(16)
	return &testHarness{
		engine:   eng,
		queue:    queue,
		consumer: worker.NewConsumer(eng, queue, nil),
		router:   NewServer(eng, queue, nil).SetupRoutes(),
	}
}

func (h *testHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) startOrder(t *testing.T, number int64) string {
	t.Helper()

	rec := h.do(t, http.MethodPost, "/orders", `{"number": `+jsonInt(number)+`, "items": ["widget"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /orders = %d: %s", rec.Code, rec.Body.String())
	}
	var resp OrderStartedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if resp.InstanceID == "" {
		t.Fatal("empty instance id in response")
	}
	if resp.StatusQueryURI != "/orders/"+resp.InstanceID {
		t.Fatalf("unexpected status query uri: %s", resp.StatusQueryURI)
	}
	return resp.InstanceID
}

func (h *testHarness) getStatus(t *testing.T, id string) OrderStatusResponse {
	t.Helper()

	rec := h.do(t, http.MethodGet, "/orders/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /orders/%s = %d: %s", id, rec.Code, rec.Body.String())
	}
	var resp OrderStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding status failed: %v", err)
	}
	return resp
}

func (h *testHarness) waitForOrderStatus(t *testing.T, id, status string) OrderStatusResponse {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := h.getStatus(t, id)
		if resp.Status == status {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never reached status %s", id, status)
	return OrderStatusResponse{}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	rec := h.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
}

func TestStartOrderValidation(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"number": `},
		{"zero number", `{"number": 0}`},
		{"negative number", `{"number": -5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/orders", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetUnknownOrder(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	rec := h.do(t, http.MethodGet, "/orders/no-such-id", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestConfirmPaymentValidation(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	rec := h.do(t, http.MethodGet, "/confirm-payment/some-id/yes-please", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad bool, got %d", rec.Code)
	}
}

func TestOrderShippedThroughHTTP(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	id := h.startOrder(t, 42)

	status := h.getStatus(t, id)
	if status.Status != "Running" {
		t.Fatalf("expected Running, got %s", status.Status)
	}

	rec := h.do(t, http.MethodGet, "/confirm-payment/"+id+"/true", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("confirm-payment = %d: %s", rec.Code, rec.Body.String())
	}
	if h.queue.Len() != 1 {
		t.Fatalf("expected 1 queued confirmation, got %d", h.queue.Len())
	}

	// The confirmation sits in the relay queue until the consumer runs.
	if err := h.consumer.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	final := h.waitForOrderStatus(t, id, string(orderflow.OutcomeShipped))
	if final.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	if final.Message == "" {
		t.Fatal("expected a shipment message")
	}
}

func TestOrderCancelledThroughHTTP(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	id := h.startOrder(t, 42)

	rec := h.do(t, http.MethodGet, "/confirm-payment/"+id+"/false", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("confirm-payment = %d: %s", rec.Code, rec.Body.String())
	}
	if err := h.consumer.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	h.waitForOrderStatus(t, id, string(orderflow.OutcomeCancelled))
}

func TestItemsUnavailableThroughHTTP(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	id := h.startOrder(t, 7)
	h.waitForOrderStatus(t, id, string(orderflow.OutcomeItemsUnavailable))
}

func TestListOrders(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	first := h.startOrder(t, 42)
	second := h.startOrder(t, 44)

	rec := h.do(t, http.MethodGet, "/orders", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /orders = %d", rec.Code)
	}
	var resp OrderListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding list failed: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 orders, got %d", resp.Count)
	}
	seen := map[string]bool{}
	for _, o := range resp.Orders {
		seen[o.InstanceID] = true
	}
	if !seen[first] || !seen[second] {
		t.Fatalf("missing orders in list: %+v", resp.Orders)
	}

	rec = h.do(t, http.MethodGet, "/orders?status=COMPLETED", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /orders?status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding list failed: %v", err)
	}
	if resp.Count != 0 {
		t.Fatalf("expected no completed orders yet, got %d", resp.Count)
	}
}

func TestOrderHistoryEndpoint(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	id := h.startOrder(t, 7)
	h.waitForOrderStatus(t, id, string(orderflow.OutcomeItemsUnavailable))

	rec := h.do(t, http.MethodGet, "/orders/"+id+"/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET history = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		InstanceID string                 `json:"instance_id"`
		Events     []HistoryEventResponse `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding history failed: %v", err)
	}
	if resp.InstanceID != id {
		t.Fatalf("history for wrong instance: %s", resp.InstanceID)
	}
	if len(resp.Events) == 0 {
		t.Fatal("expected non-empty history")
	}
	last := resp.Events[len(resp.Events)-1]
	if last.Kind != string(api.KindOrchestrationCompleted) {
		t.Fatalf("expected OrchestrationCompleted last, got %s", last.Kind)
	}

	rec = h.do(t, http.MethodGet, "/orders/no-such-id/history", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown history, got %d", rec.Code)
	}
}
