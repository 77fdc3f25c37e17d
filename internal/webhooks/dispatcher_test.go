package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bruinhooks/internal/logging"
	"bruinhooks/internal/model"
	"bruinhooks/internal/store"
)

type dispatchFixture struct {
	store *store.Memory
	exec  *Executor
	d     *Dispatcher
}

func newDispatchFixture(t *testing.T, maxAttempts int) *dispatchFixture {
	t.Helper()
	m := store.NewMemory()
	exec := NewExecutor(&http.Client{}, time.Second)
	r := NewRetrier(exec, m, Policy{MaxAttempts: maxAttempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, logging.Discard())
	d := NewDispatcher(m, r, 8, logging.Discard())
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return &dispatchFixture{store: m, exec: exec, d: d}
}

func (f *dispatchFixture) logs(t *testing.T, id string) []model.DeliveryLog {
	t.Helper()
	logs, err := f.store.ListDeliveryLogs(context.Background(), id, 0)
	require.NoError(t, err)
	return logs
}

func okServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatchWildcardMatchesEveryEventType(t *testing.T) {
	f := newDispatchFixture(t, 1)
	srv := okServer(t, nil)
	sub := mustRegister(t, f.store, model.SubscriptionInput{URL: srv.URL, Secret: "s1", EventTypes: []string{}})

	types := []string{model.EventNoteCreated, model.EventNoteUpdated, model.EventNoteDeleted, model.EventNoteTrashed,
		model.EventNoteRestored, model.EventNotePinned, model.EventStateChanged, "something_new"}
	for _, et := range types {
		evt := testEvent()
		evt.EventType = et
		assert.Equal(t, 1, f.d.Dispatch(evt), et)
	}
	f.d.Wait()
	assert.Len(t, f.logs(t, sub.ID), len(types))
}

func TestDispatchScenarioSingleWildcard(t *testing.T) {
	f := newDispatchFixture(t, 1)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.exec.now = func() time.Time { return at }
	srv := okServer(t, nil)
	sub := mustRegister(t, f.store, model.SubscriptionInput{URL: srv.URL, Secret: "s1", EventTypes: []string{}})

	f.d.Dispatch(testEvent())
	f.d.Wait()

	logs := f.logs(t, sub.ID)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, 1, logs[0].Attempt)
	assert.Equal(t, at, logs[0].Timestamp)
	got, _ := f.store.GetSubscription(context.Background(), sub.ID)
	require.NotNil(t, got.LastTriggeredAt)
	assert.Equal(t, at, *got.LastTriggeredAt)
	assert.Zero(t, got.FailureCount)
}

func TestDispatchScenarioFilteredSubscriptions(t *testing.T) {
	f := newDispatchFixture(t, 1)
	var hitsA, hitsB atomic.Int32
	a := mustRegister(t, f.store, model.SubscriptionInput{URL: okServer(t, &hitsA).URL, Secret: "s1", EventTypes: []string{model.EventNoteCreated}})
	b := mustRegister(t, f.store, model.SubscriptionInput{URL: okServer(t, &hitsB).URL, Secret: "s2", EventTypes: []string{model.EventNoteTrashed}})

	assert.Equal(t, 1, f.d.Dispatch(testEvent()))
	f.d.Wait()

	assert.Equal(t, int32(1), hitsA.Load())
	assert.Zero(t, hitsB.Load())
	assert.Len(t, f.logs(t, a.ID), 1)
	assert.Empty(t, f.logs(t, b.ID))
	gotB, _ := f.store.GetSubscription(context.Background(), b.ID)
	assert.Nil(t, gotB.LastTriggeredAt, "skipped subscriptions are untouched")
	assert.Zero(t, gotB.FailureCount)
}

func TestDispatchScenarioDeactivateMidStream(t *testing.T) {
	f := newDispatchFixture(t, 1)
	ctx := context.Background()
	sub := mustRegister(t, f.store, model.SubscriptionInput{URL: okServer(t, nil).URL, Secret: "s1"})

	f.d.Dispatch(testEvent())
	f.d.Wait()
	require.Len(t, f.logs(t, sub.ID), 1)

	_, err := f.store.SetSubscriptionActive(ctx, sub.ID, false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.Zero(t, f.d.Dispatch(testEvent()))
	}
	f.d.Wait()
	assert.Len(t, f.logs(t, sub.ID), 1)

	_, err = f.store.SetSubscriptionActive(ctx, sub.ID, true)
	require.NoError(t, err)
	f.d.Dispatch(testEvent())
	f.d.Wait()
	assert.Len(t, f.logs(t, sub.ID), 2, "reactivation resumes delivery")
}

func TestDispatchFailuresCountPerAttempt(t *testing.T) {
	f := newDispatchFixture(t, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	sub := mustRegister(t, f.store, model.SubscriptionInput{URL: srv.URL, Secret: "s1"})

	f.d.Dispatch(testEvent())
	f.d.Wait()
	got, _ := f.store.GetSubscription(context.Background(), sub.ID)
	assert.Equal(t, 3, got.FailureCount)

	f.d.Dispatch(testEvent())
	f.d.Wait()
	got, _ = f.store.GetSubscription(context.Background(), sub.ID)
	assert.Equal(t, 6, got.FailureCount)

	logs := f.logs(t, sub.ID)
	require.Len(t, logs, 6)
	for _, l := range logs {
		require.NotNil(t, l.StatusCode)
		assert.Equal(t, 500, *l.StatusCode)
	}
}

func TestDispatchDoesNotBlockOnSlowReceivers(t *testing.T) {
	f := newDispatchFixture(t, 1)
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	var fastHits atomic.Int32
	mustRegister(t, f.store, model.SubscriptionInput{URL: slow.URL, Secret: "s1"})
	fast := mustRegister(t, f.store, model.SubscriptionInput{URL: okServer(t, &fastHits).URL, Secret: "s2"})

	start := time.Now()
	assert.Equal(t, 2, f.d.Dispatch(testEvent()))
	assert.Less(t, time.Since(start), 200*time.Millisecond, "dispatch returns before delivery")

	require.Eventually(t, func() bool {
		logs, _ := f.store.ListDeliveryLogs(context.Background(), fast.ID, 0)
		return len(logs) == 1
	}, 2*time.Second, 10*time.Millisecond, "fast receiver is not held up by the slow one")
}

func TestManualTestAgainstUnreachableURL(t *testing.T) {
	f := newDispatchFixture(t, 5)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	sub := mustRegister(t, f.store, model.SubscriptionInput{URL: url, Secret: "s1"})

	res, err := f.d.Test(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.ErrorMessage)

	got, _ := f.store.GetSubscription(context.Background(), sub.ID)
	assert.Equal(t, 1, got.FailureCount)
	logs := f.logs(t, sub.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].Attempt)
	assert.Equal(t, model.EventWebhookTest, logs[0].EventType)
	assert.Nil(t, logs[0].StatusCode)
}

func TestManualTestWorksOnInactiveAndMissing(t *testing.T) {
	f := newDispatchFixture(t, 1)
	sub := mustRegister(t, f.store, model.SubscriptionInput{URL: okServer(t, nil).URL, Secret: "s1"})
	_, err := f.store.SetSubscriptionActive(context.Background(), sub.ID, false)
	require.NoError(t, err)

	res, err := f.d.Test(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = f.d.Test(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDispatcherCloseDropsLaterEvents(t *testing.T) {
	f := newDispatchFixture(t, 1)
	sub := mustRegister(t, f.store, model.SubscriptionInput{URL: okServer(t, nil).URL, Secret: "s1"})
	require.NoError(t, f.d.Close(context.Background()))
	assert.Zero(t, f.d.Dispatch(testEvent()))
	assert.Empty(t, f.logs(t, sub.ID))
}

func TestDispatchBackoffDoesNotHoldSlots(t *testing.T) {
	m := store.NewMemory()
	rt := NewRetrier(NewExecutor(&http.Client{}, time.Second), m,
		Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Second}, logging.Discard())
	d := NewDispatcher(m, rt, 2, logging.Discard())
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)
	bad := mustRegister(t, m, model.SubscriptionInput{URL: failing.URL, Secret: "s1", EventTypes: []string{model.EventNoteUpdated}})
	healthy := mustRegister(t, m, model.SubscriptionInput{URL: okServer(t, nil).URL, Secret: "s2", EventTypes: []string{model.EventNoteCreated}})

	updated := testEvent()
	updated.EventType = model.EventNoteUpdated
	assert.Equal(t, 1, d.Dispatch(updated))
	assert.Equal(t, 1, d.Dispatch(updated))
	require.Eventually(t, func() bool {
		logs, _ := m.ListDeliveryLogs(context.Background(), bad.ID, 0)
		return len(logs) == 2
	}, 2*time.Second, 5*time.Millisecond, "both failing sequences reach their first backoff")

	start := time.Now()
	assert.Equal(t, 1, d.Dispatch(testEvent()))
	require.Eventually(t, func() bool {
		logs, _ := m.ListDeliveryLogs(context.Background(), healthy.ID, 0)
		return len(logs) == 1 && logs[0].Success
	}, 500*time.Millisecond, 5*time.Millisecond, "healthy subscription is delivered while others back off")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
