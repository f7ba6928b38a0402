// Package queue stages invoices drafted while the client was offline until
// the next drain run.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"

	"kasaba/backend/internal/domain"
)

var ErrNotQueued = errors.New("invoice not queued")

// Queue holds pending offline invoices keyed by their client id. Enqueue is
// an upsert: re-submitting the same client id replaces the staged record
// instead of duplicating it.
type Queue interface {
	Enqueue(ctx context.Context, invoice domain.QueuedInvoice) error
	List(ctx context.Context) ([]domain.QueuedInvoice, error)
	Remove(ctx context.Context, clientID string) error
}

// Memory is the fallback queue when no Redis address is configured. Staged
// invoices do not survive a restart, matching the pre-drain durability of
// the client-side draft they mirror.
type Memory struct {
	mu       sync.Mutex
	invoices map[string]domain.QueuedInvoice
}

func NewMemory() *Memory {
	return &Memory{invoices: make(map[string]domain.QueuedInvoice)}
}

func (m *Memory) Enqueue(ctx context.Context, invoice domain.QueuedInvoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[invoice.ClientID] = invoice
	return nil
}

func (m *Memory) List(ctx context.Context) ([]domain.QueuedInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.QueuedInvoice, 0, len(m.invoices))
	for _, invoice := range m.invoices {
		out = append(out, invoice)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (m *Memory) Remove(ctx context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[clientID]; !ok {
		return ErrNotQueued
	}
	delete(m.invoices, clientID)
	return nil
}
