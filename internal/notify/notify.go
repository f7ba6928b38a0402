// Package notify sends best-effort webhook notifications for placed orders.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"kasaba/backend/internal/domain"
)

// Notifier announces a placed order to an external endpoint. Implementations
// must never block the order path on delivery.
type Notifier interface {
	OrderPlaced(order domain.Order)
}

// Noop is used when no webhook URL is configured.
type Noop struct{}

func (Noop) OrderPlaced(domain.Order) {}

// Webhook POSTs an order summary to a fixed URL from a goroutine. Failures
// are logged and dropped; there is no retry.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type orderPayload struct {
	OrderID   string `json:"order_id"`
	Number    string `json:"number"`
	PartyID   string `json:"party_id,omitempty"`
	Total     string `json:"total"`
	TotalPaid string `json:"total_paid"`
	ItemCount int    `json:"item_count"`
}

func (w *Webhook) OrderPlaced(order domain.Order) {
	go func() {
		payload := orderPayload{
			OrderID:   order.ID,
			Number:    order.Number,
			PartyID:   order.PartyID,
			Total:     order.Total.String(),
			TotalPaid: order.TotalPaid.String(),
			ItemCount: len(order.Items),
		}
		body, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[notify] WARN: marshal order %s: %v", order.ID, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			log.Printf("[notify] WARN: build request for order %s: %v", order.ID, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			log.Printf("[notify] WARN: notify order %s: %v", order.ID, err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("[notify] WARN: notify order %s: status %d", order.ID, resp.StatusCode)
		}
	}()
}
