package store

import (
	"context"
	"errors"
	"time"

	"bruinhooks/internal/model"
)

// Registry owns webhook subscriptions and their delivery counters.
type Registry interface {
	CreateSubscription(ctx context.Context, in model.SubscriptionInput) (model.Subscription, error)
	// ListSubscriptions returns every subscription in insertion order, active or not.
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	GetSubscription(ctx context.Context, id string) (model.Subscription, error)
	SetSubscriptionActive(ctx context.Context, id string, active bool) (model.Subscription, error)
	// DeleteSubscription leaves the subscription's delivery logs in place.
	DeleteSubscription(ctx context.Context, id string) error
	// RecordAttempt sets last_triggered_at to at; success resets failure_count, failure increments it.
	RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error
}

// DeliveryLogStore is the append-only audit trail of delivery attempts.
type DeliveryLogStore interface {
	AppendDeliveryLog(ctx context.Context, entry model.DeliveryLog) error
	// ListDeliveryLogs returns entries for one webhook, newest first. limit <= 0 means 100.
	ListDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]model.DeliveryLog, error)
	PruneDeliveryLogs(ctx context.Context, before time.Time) (int64, error)
}

// Store is the persistence interface used by the dispatcher and the API server.
type Store interface {
	Registry
	DeliveryLogStore
}

var ErrNotFound = errors.New("not found")

const (
	defaultLogLimit = 100
	maxLogLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLogLimit
	}
	if limit > maxLogLimit {
		return maxLogLimit
	}
	return limit
}
