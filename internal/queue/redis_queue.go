package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"kasaba/backend/internal/domain"
)

const redisQueueKey = "kasaba:offline_queue"

// Redis stages offline invoices in a Redis hash keyed by client id, so a
// server restart between enqueue and drain loses nothing.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Enqueue(ctx context.Context, invoice domain.QueuedInvoice) error {
	payload, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("marshal queued invoice: %w", err)
	}
	if err := r.client.HSet(ctx, redisQueueKey, invoice.ClientID, payload).Err(); err != nil {
		return fmt.Errorf("stage queued invoice: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]domain.QueuedInvoice, error) {
	raw, err := r.client.HGetAll(ctx, redisQueueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list queued invoices: %w", err)
	}

	out := make([]domain.QueuedInvoice, 0, len(raw))
	for clientID, payload := range raw {
		var invoice domain.QueuedInvoice
		if err := json.Unmarshal([]byte(payload), &invoice); err != nil {
			return nil, fmt.Errorf("decode queued invoice %s: %w", clientID, err)
		}
		out = append(out, invoice)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (r *Redis) Remove(ctx context.Context, clientID string) error {
	removed, err := r.client.HDel(ctx, redisQueueKey, clientID).Result()
	if err != nil {
		return fmt.Errorf("remove queued invoice: %w", err)
	}
	if removed == 0 {
		return ErrNotQueued
	}
	return nil
}
