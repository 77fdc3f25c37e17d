package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bruinhooks/internal/model"
)

func testEvent() model.DomainEvent {
	note := "note-1"
	return model.DomainEvent{
		EventType: model.EventNoteCreated,
		NoteID:    &note,
		Summary:   "created",
		Actor:     model.ActorUser,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestExecutorSuccessAndHeaders(t *testing.T) {
	type captured struct {
		method string
		header http.Header
		body   []byte
	}
	reqs := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		reqs <- captured{method: r.Method, header: r.Header.Clone(), body: b}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sub := model.Subscription{ID: "w1", URL: srv.URL, Secret: "s1", IsActive: true}
	res := NewExecutor(srv.Client(), time.Second).Deliver(context.Background(), sub, testEvent(), 3)

	require.True(t, res.Success)
	require.NoError(t, res.Err)
	require.NotNil(t, res.StatusCode)
	assert.Equal(t, http.StatusNoContent, *res.StatusCode)
	assert.Nil(t, res.ErrorMessage)
	assert.Nil(t, res.ResponseBody)

	got := <-reqs
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(got.header.Get("User-Agent"), "bruin-webhooks/"))
	assert.Equal(t, "note_created", got.header.Get("X-Bruin-Event"))
	assert.Equal(t, "3", got.header.Get("X-Bruin-Attempt"))
	assert.Equal(t, "w1", got.header.Get("X-Bruin-Webhook-Id"))
	assert.True(t, Verify(got.body, "s1", got.header.Get(SignatureHeader)))
	assert.Equal(t, res.Payload, got.body)
}

func TestExecutorNon2xxCapturesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	res := NewExecutor(srv.Client(), time.Second).Deliver(context.Background(), model.Subscription{ID: "w1", URL: srv.URL, Secret: "s"}, testEvent(), 1)
	assert.False(t, res.Success)
	require.NotNil(t, res.StatusCode)
	assert.Equal(t, http.StatusBadGateway, *res.StatusCode)
	require.NotNil(t, res.ResponseBody)
	assert.Equal(t, "upstream down", *res.ResponseBody)
	var herr *HTTPStatusError
	require.ErrorAs(t, res.Err, &herr)
	assert.Equal(t, http.StatusBadGateway, herr.StatusCode)
	require.NotNil(t, res.ErrorMessage)
	assert.Equal(t, "unexpected status 502", *res.ErrorMessage)
}

func TestExecutorRedirectIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultipleChoices)
	}))
	defer srv.Close()
	res := NewExecutor(srv.Client(), time.Second).Deliver(context.Background(), model.Subscription{URL: srv.URL, Secret: "s"}, testEvent(), 1)
	assert.False(t, res.Success)
	assert.Equal(t, 300, *res.StatusCode)
}

func TestExecutorDoesNotFollowRedirects(t *testing.T) {
	var targetHits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targetHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer srv.Close()

	res := NewExecutor(srv.Client(), time.Second).Deliver(context.Background(), model.Subscription{URL: srv.URL, Secret: "s"}, testEvent(), 1)
	assert.False(t, res.Success)
	require.NotNil(t, res.StatusCode)
	assert.Equal(t, http.StatusFound, *res.StatusCode)
	var herr *HTTPStatusError
	assert.ErrorAs(t, res.Err, &herr)
	assert.Zero(t, targetHits.Load(), "redirect target must not be contacted")
}

func TestExecutorBodyReadErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("short"))
	}))
	defer srv.Close()

	res := NewExecutor(srv.Client(), time.Second).Deliver(context.Background(), model.Subscription{URL: srv.URL, Secret: "s"}, testEvent(), 1)
	assert.False(t, res.Success)
	require.NotNil(t, res.StatusCode)
	assert.Equal(t, http.StatusOK, *res.StatusCode)
	var terr *TransportError
	require.ErrorAs(t, res.Err, &terr)
	require.NotNil(t, res.ErrorMessage)
	assert.Contains(t, *res.ErrorMessage, "read response body")
}

func TestExecutorTruncatesLargeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", maxResponseBody+100)))
	}))
	defer srv.Close()
	res := NewExecutor(srv.Client(), time.Second).Deliver(context.Background(), model.Subscription{URL: srv.URL, Secret: "s"}, testEvent(), 1)
	require.NotNil(t, res.ResponseBody)
	assert.Len(t, *res.ResponseBody, maxResponseBody)
}

func TestExecutorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewExecutor(&http.Client{}, time.Second).Deliver(context.Background(), model.Subscription{URL: url, Secret: "s"}, testEvent(), 1)
	assert.False(t, res.Success)
	assert.Nil(t, res.StatusCode)
	require.NotNil(t, res.ErrorMessage)
	assert.NotEmpty(t, *res.ErrorMessage)
	var terr *TransportError
	assert.ErrorAs(t, res.Err, &terr)
}

func TestExecutorTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	res := NewExecutor(srv.Client(), 50*time.Millisecond).Deliver(context.Background(), model.Subscription{URL: srv.URL, Secret: "s"}, testEvent(), 1)
	assert.False(t, res.Success)
	assert.Nil(t, res.StatusCode)
	var terr *TransportError
	assert.ErrorAs(t, res.Err, &terr)
	assert.Less(t, time.Since(start), 2*time.Second)
}
