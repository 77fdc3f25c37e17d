package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"bruinhooks/internal/config"
	"bruinhooks/internal/metrics"
	"bruinhooks/internal/model"
	"bruinhooks/internal/store"
)

// State of one (event, subscription) delivery sequence.
type State int

const (
	StateAttempting State = iota
	StateSucceeded
	StateExhausted
	// StateAborted means the sequence was cancelled while waiting (shutdown).
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Outcome is the terminal state of a sequence.
type Outcome struct {
	State    State
	Attempts int
	Last     Result
}

// Policy bounds a delivery sequence.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func PolicyFromConfig(c config.WebhookConfig) Policy {
	return Policy{MaxAttempts: c.MaxAttempts, InitialDelay: c.InitialBackoff, MaxDelay: c.MaxBackoff}
}

// Backoff is the wait after failed attempt n (1-based): InitialDelay doubled per attempt,
// capped at MaxDelay.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 30 {
		n = 30
	}
	d := p.InitialDelay << (n - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// Retrier drives delivery sequences and does the per-attempt bookkeeping: one delivery log
// entry and one RecordAttempt for every attempt.
type Retrier struct {
	exec     Deliverer
	reg      store.Registry
	logs     store.DeliveryLogStore
	policy   Policy
	limiters *limiterSet
	log      logrus.FieldLogger

	// OnAttempt, when set, receives every appended log entry (live log stream).
	OnAttempt func(model.DeliveryLog)

	sleep func(ctx context.Context, d time.Duration) error
}

type RetrierOption func(*Retrier)

// WithRateLimit caps attempts per subscription with a token bucket.
func WithRateLimit(perSec float64, burst int) RetrierOption {
	return func(r *Retrier) { r.limiters = newLimiterSet(perSec, burst) }
}

func NewRetrier(exec Deliverer, st store.Store, policy Policy, log logrus.FieldLogger, opts ...RetrierOption) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r := &Retrier{exec: exec, reg: st, logs: st, policy: policy, log: log, sleep: sleepCtx}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes attempts 1..MaxAttempts until one succeeds. Cancelling ctx aborts the
// rate-limit and backoff waits; an attempt already on the wire is allowed to finish and is
// recorded.
func (r *Retrier) Run(ctx context.Context, sub model.Subscription, evt model.DomainEvent) Outcome {
	return r.run(ctx, sub, evt, nil)
}

// run is Run with an optional slot pool. A slot is held only while an attempt is on the
// wire, never across rate-limit or backoff waits.
func (r *Retrier) run(ctx context.Context, sub model.Subscription, evt model.DomainEvent, slots *semaphore.Weighted) Outcome {
	out := Outcome{State: StateAttempting}
	for out.State == StateAttempting {
		n := out.Attempts + 1
		if err := r.limiters.wait(ctx, sub.ID); err != nil {
			out.State = StateAborted
			break
		}
		if slots != nil {
			if err := slots.Acquire(ctx, 1); err != nil {
				out.State = StateAborted
				break
			}
		}
		res := r.attempt(context.WithoutCancel(ctx), sub, evt, n)
		if slots != nil {
			slots.Release(1)
		}
		out.Attempts = n
		out.Last = res
		out.State = r.next(n, res)
		if out.State != StateAttempting {
			break
		}
		if err := r.sleep(ctx, r.policy.Backoff(n)); err != nil {
			out.State = StateAborted
		}
	}
	metrics.WebhookSequences.WithLabelValues(out.State.String()).Inc()
	r.log.WithFields(logrus.Fields{
		"webhook_id": sub.ID,
		"event_type": evt.EventType,
		"attempts":   out.Attempts,
		"result":     out.State.String(),
	}).Debug("webhook sequence finished")
	return out
}

// Once performs a single attempt numbered 1 with no retry. It is still logged and counted.
func (r *Retrier) Once(ctx context.Context, sub model.Subscription, evt model.DomainEvent) Result {
	return r.attempt(ctx, sub, evt, 1)
}

func (r *Retrier) next(n int, res Result) State {
	switch {
	case res.Success:
		return StateSucceeded
	case n >= r.policy.MaxAttempts:
		return StateExhausted
	default:
		return StateAttempting
	}
}

func (r *Retrier) attempt(ctx context.Context, sub model.Subscription, evt model.DomainEvent, n int) Result {
	metrics.WebhookInFlight.Inc()
	res := r.exec.Deliver(ctx, sub, evt, n)
	metrics.WebhookInFlight.Dec()
	r.record(ctx, sub, evt, n, res)
	return res
}

func (r *Retrier) record(ctx context.Context, sub model.Subscription, evt model.DomainEvent, n int, res Result) {
	entry := model.DeliveryLog{
		ID:           uuid.New().String(),
		WebhookID:    sub.ID,
		EventType:    evt.EventType,
		Success:      res.Success,
		StatusCode:   res.StatusCode,
		Timestamp:    res.Started,
		Payload:      res.Payload,
		ResponseBody: res.ResponseBody,
		ErrorMessage: res.ErrorMessage,
		Attempt:      n,
		DurationMs:   res.DurationMs(),
	}
	// Bookkeeping outlives request cancellation.
	ctx = context.WithoutCancel(ctx)
	fields := logrus.Fields{"webhook_id": sub.ID, "event_type": evt.EventType, "attempt": n}
	if res.StatusCode != nil {
		fields["status_code"] = *res.StatusCode
	}

	if err := r.logs.AppendDeliveryLog(ctx, entry); err != nil {
		r.log.WithFields(fields).WithError(err).Error("append delivery log")
	}
	if err := r.reg.RecordAttempt(ctx, sub.ID, res.Success, res.Started); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.log.WithFields(fields).Debug("subscription deleted during delivery")
			r.limiters.forget(sub.ID)
		} else {
			r.log.WithFields(fields).WithError(err).Error("record attempt")
		}
	}

	outcome := "success"
	if !res.Success {
		outcome = "failure"
		r.log.WithFields(fields).WithError(res.Err).Warn("webhook attempt failed")
	} else {
		r.log.WithFields(fields).Info("webhook delivered")
	}
	metrics.WebhookAttempts.WithLabelValues(evt.EventType, outcome).Inc()
	metrics.WebhookLatency.WithLabelValues(evt.EventType, outcome).Observe(float64(res.DurationMs()))

	if r.OnAttempt != nil {
		r.OnAttempt(entry)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
