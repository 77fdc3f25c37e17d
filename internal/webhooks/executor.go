package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"bruinhooks/internal/buildinfo"
	"bruinhooks/internal/model"
)

// maxResponseBody bounds how much of a receiver's response is kept in the delivery log.
const maxResponseBody = 64 << 10

// Result is the outcome of exactly one HTTP attempt.
type Result struct {
	Success      bool
	StatusCode   *int
	ResponseBody *string
	ErrorMessage *string
	Payload      []byte
	Started      time.Time
	Duration     time.Duration
	// Err is nil on success, otherwise a *TransportError or *HTTPStatusError.
	Err error
}

// Deliverer performs one delivery attempt. *Executor is the production implementation.
type Deliverer interface {
	Deliver(ctx context.Context, sub model.Subscription, evt model.DomainEvent, attempt int) Result
}

// Executor POSTs signed payloads. It never retries and never touches the stores.
type Executor struct {
	HTTP      *http.Client
	Timeout   time.Duration
	UserAgent string
	now       func() time.Time
}

// NewExecutor copies client and, unless the caller set a policy, stops it from following
// redirects so a 3xx is reported as the receiver's answer.
func NewExecutor(client *http.Client, timeout time.Duration) *Executor {
	c := &http.Client{}
	if client != nil {
		cp := *client
		c = &cp
	}
	if c.CheckRedirect == nil {
		c.CheckRedirect = noRedirects
	}
	return &Executor{HTTP: c, Timeout: timeout, UserAgent: buildinfo.UserAgent(), now: time.Now}
}

func noRedirects(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func (e *Executor) Deliver(ctx context.Context, sub model.Subscription, evt model.DomainEvent, attempt int) Result {
	res := Result{Started: e.now().UTC()}
	start := time.Now()
	body, err := BuildPayload(evt)
	if err != nil {
		return res.fail(&TransportError{Err: fmt.Errorf("encode payload: %w", err)})
	}
	res.Payload = body

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return res.fail(&TransportError{Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.UserAgent)
	req.Header.Set(SignatureHeader, SignatureHeaderValue(body, sub.Secret))
	req.Header.Set("X-Bruin-Event", evt.EventType)
	req.Header.Set("X-Bruin-Attempt", strconv.Itoa(attempt))
	req.Header.Set("X-Bruin-Webhook-Id", sub.ID)

	resp, err := e.HTTP.Do(req)
	if err != nil {
		res.Duration = time.Since(start)
		return res.fail(&TransportError{Err: err})
	}
	defer resp.Body.Close()
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res.Duration = time.Since(start)

	code := resp.StatusCode
	res.StatusCode = &code
	if len(raw) > 0 {
		s := string(raw)
		res.ResponseBody = &s
	}
	// A response cut off mid-body is not an acknowledgement.
	if readErr != nil {
		return res.fail(&TransportError{Err: fmt.Errorf("read response body: %w", readErr)})
	}
	if code >= 200 && code < 300 {
		res.Success = true
		return res
	}
	return res.fail(&HTTPStatusError{StatusCode: code, Body: string(raw)})
}

func (r Result) fail(err error) Result {
	r.Success = false
	r.Err = err
	msg := err.Error()
	if te, ok := err.(*TransportError); ok {
		msg = te.Err.Error()
	}
	r.ErrorMessage = &msg
	return r
}

// DurationMs is the attempt latency rounded down to milliseconds.
func (r Result) DurationMs() int {
	return int(r.Duration.Milliseconds())
}
