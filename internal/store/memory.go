package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bruinhooks/internal/model"
)

// Memory is an in-memory store used when no DATABASE_URL is set.
//
// mu guards the subscription index only; each record carries its own lock so concurrent
// RecordAttempt calls for different subscriptions never contend and calls for the same
// subscription are serialized.
type Memory struct {
	mu    sync.RWMutex
	subs  map[string]*memSub
	order []string // insertion order of subscription ids

	logMu sync.RWMutex
	logs  map[string][]model.DeliveryLog // webhook id -> entries in append order

	now func() time.Time
}

type memSub struct {
	mu  sync.Mutex
	sub model.Subscription
}

func NewMemory() *Memory {
	return &Memory{
		subs: map[string]*memSub{},
		logs: map[string][]model.DeliveryLog{},
		now:  time.Now,
	}
}

func (m *Memory) CreateSubscription(ctx context.Context, in model.SubscriptionInput) (model.Subscription, error) {
	if err := in.Validate(); err != nil {
		return model.Subscription{}, err
	}
	s := model.Subscription{
		ID:         uuid.New().String(),
		URL:        in.URL,
		Secret:     in.Secret,
		EventTypes: in.EventTypes,
		IsActive:   true,
		CreatedAt:  m.now().UTC(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.ID] = &memSub{sub: s}
	m.order = append(m.order, s.ID)
	return s.Clone(), nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Subscription, 0, len(m.order))
	for _, id := range m.order {
		rec := m.subs[id]
		rec.mu.Lock()
		out = append(out, rec.sub.Clone())
		rec.mu.Unlock()
	}
	return out, nil
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
	rec := m.record(id)
	if rec == nil {
		return model.Subscription{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.sub.Clone(), nil
}

func (m *Memory) SetSubscriptionActive(ctx context.Context, id string, active bool) (model.Subscription, error) {
	rec := m.record(id)
	if rec == nil {
		return model.Subscription{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.sub.IsActive = active
	return rec.sub.Clone(), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	out := make([]string, 0, len(m.order))
	for _, v := range m.order {
		if v != id {
			out = append(out, v)
		}
	}
	m.order = out
	return nil
}

func (m *Memory) RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error {
	rec := m.record(id)
	if rec == nil {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	t := at.UTC()
	rec.sub.LastTriggeredAt = &t
	if success {
		rec.sub.FailureCount = 0
	} else {
		rec.sub.FailureCount++
	}
	return nil
}

func (m *Memory) record(id string) *memSub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subs[id]
}

// Delivery logs

func (m *Memory) AppendDeliveryLog(ctx context.Context, entry model.DeliveryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Payload != nil {
		entry.Payload = append([]byte(nil), entry.Payload...)
	}
	m.logMu.Lock()
	defer m.logMu.Unlock()
	m.logs[entry.WebhookID] = append(m.logs[entry.WebhookID], entry)
	return nil
}

func (m *Memory) ListDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]model.DeliveryLog, error) {
	limit = clampLimit(limit)
	m.logMu.RLock()
	defer m.logMu.RUnlock()
	entries := m.logs[webhookID]
	out := make([]model.DeliveryLog, 0, min(limit, len(entries)))
	// Appends arrive in attempt order per sequence but sequences interleave, so order by
	// timestamp and fall back to append position for ties.
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sortNewestFirst(entries, idx)
	for _, i := range idx {
		if len(out) >= limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

func (m *Memory) PruneDeliveryLogs(ctx context.Context, before time.Time) (int64, error) {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	var n int64
	for id, entries := range m.logs {
		kept := entries[:0:0]
		for _, e := range entries {
			if e.Timestamp.Before(before) {
				n++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(m.logs, id)
		} else {
			m.logs[id] = kept
		}
	}
	return n, nil
}
