package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasaba/backend/internal/domain"
)

func TestWebhookPostsOrderSummary(t *testing.T) {
	received := make(chan orderPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload orderPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	webhook := NewWebhook(srv.URL)
	webhook.OrderPlaced(domain.Order{
		ID:        "ord-1",
		Number:    "2026-08-0001",
		Total:     decimal.NewFromInt(1500),
		TotalPaid: decimal.NewFromInt(500),
		Items:     []domain.OrderItem{{ProductID: "prd-1", Qty: 3}},
	})

	select {
	case payload := <-received:
		if payload.OrderID != "ord-1" || payload.Number != "2026-08-0001" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		if payload.Total != "1500" || payload.ItemCount != 1 {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("webhook was never called")
	}
}

func TestWebhookFailureDoesNotPanic(t *testing.T) {
	webhook := NewWebhook("http://127.0.0.1:1/unreachable")
	webhook.OrderPlaced(domain.Order{ID: "ord-2"})
	// Delivery is fire-and-forget; give the goroutine a moment to fail.
	time.Sleep(50 * time.Millisecond)
}
