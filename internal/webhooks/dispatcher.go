package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"bruinhooks/internal/model"
	"bruinhooks/internal/store"
)

const testSummary = "Test delivery from Bruin"

// Dispatcher fans domain events out to matching subscriptions. Each (event, subscription)
// pair runs as its own goroutine; a weighted semaphore caps how many HTTP attempts are on
// the wire at once. Sequences waiting out a backoff hold no slot.
type Dispatcher struct {
	reg     store.Registry
	retrier *Retrier
	sem     *semaphore.Weighted
	log     logrus.FieldLogger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(reg store.Registry, retrier *Retrier, maxInFlight int64, log logrus.FieldLogger) *Dispatcher {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		reg:     reg,
		retrier: retrier,
		sem:     semaphore.NewWeighted(maxInFlight),
		log:     log,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dispatch starts a delivery sequence for every active subscription matching evt and
// returns how many were started. It never waits for delivery.
func (d *Dispatcher) Dispatch(evt model.DomainEvent) int {
	subs, err := d.reg.ListSubscriptions(d.ctx)
	if err != nil {
		d.log.WithError(err).WithField("event_type", evt.EventType).Error("list subscriptions for dispatch")
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.WithField("event_type", evt.EventType).Warn("dispatcher closed; event dropped")
		return 0
	}
	matched := 0
	for _, sub := range subs {
		if !sub.Matches(evt.EventType) {
			continue
		}
		matched++
		d.wg.Add(1)
		go d.run(sub, evt)
	}
	return matched
}

// OnEvent is the fire-and-forget sink handed to event sources.
func (d *Dispatcher) OnEvent(evt model.DomainEvent) {
	d.Dispatch(evt)
}

func (d *Dispatcher) run(sub model.Subscription, evt model.DomainEvent) {
	defer d.wg.Done()
	out := d.retrier.run(d.ctx, sub, evt, d.sem)
	if out.State == StateAborted && out.Attempts == 0 {
		d.log.WithFields(logrus.Fields{"webhook_id": sub.ID, "event_type": evt.EventType}).Warn("delivery dropped on shutdown")
	}
}

// Test sends a single synchronous test delivery to the subscription, active or not.
func (d *Dispatcher) Test(ctx context.Context, id string) (Result, error) {
	sub, err := d.reg.GetSubscription(ctx, id)
	if err != nil {
		return Result{}, err
	}
	evt := model.DomainEvent{
		EventType: model.EventWebhookTest,
		Summary:   testSummary,
		Actor:     model.ActorUser,
		Timestamp: d.now().UTC(),
	}
	return d.retrier.Once(ctx, sub, evt), nil
}

// Wait blocks until every dispatched sequence has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting events, cancels pending waits and drains running sequences until
// ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
