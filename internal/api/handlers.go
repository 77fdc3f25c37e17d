package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"bruinhooks/internal/metrics"
	"bruinhooks/internal/model"
	"bruinhooks/internal/store"
)

// subscriptionView is the list/get representation; the secret is only hinted at.
type subscriptionView struct {
	model.Subscription
	SecretHint string `json:"secret_hint"`
}

// registeredView is returned once, on registration, and carries the secret.
type registeredView struct {
	model.Subscription
	Secret string `json:"secret"`
}

type testResultView struct {
	Success      bool    `json:"success"`
	StatusCode   *int    `json:"status_code"`
	ResponseBody *string `json:"response_body"`
	ErrorMessage *string `json:"error_message"`
	DurationMs   int     `json:"duration_ms"`
}

const minHintedSecret = 16

func viewOf(s model.Subscription) subscriptionView {
	return subscriptionView{Subscription: s, SecretHint: secretHint(s.Secret)}
}

// secretHint shows the last four characters only for secrets long enough that the tail
// reveals little.
func secretHint(secret string) string {
	if len(secret) < minHintedSecret {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// writeError maps store and validation errors onto problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeProblem(w, http.StatusBadRequest, "Validation failed", verr.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "webhook not found", r.URL.Path)
	default:
		s.Log.WithError(err).WithField("path", r.URL.Path).Error(title)
		writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
	}
}

// CreateWebhookHandler handles POST /v1/webhooks
func (s *Server) CreateWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var in model.SubscriptionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	sub, err := s.Store.CreateSubscription(r.Context(), in)
	if err != nil {
		s.writeError(w, r, "Register webhook failed", err)
		return
	}
	s.Log.WithField("webhook_id", sub.ID).Info("webhook registered")
	writeJSON(w, http.StatusCreated, registeredView{Subscription: sub, Secret: sub.Secret})
}

// ListWebhooksHandler handles GET /v1/webhooks
func (s *Server) ListWebhooksHandler(w http.ResponseWriter, r *http.Request) {
	subs, err := s.Store.ListSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, r, "List webhooks failed", err)
		return
	}
	items := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		items = append(items, viewOf(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetWebhookHandler handles GET /v1/webhooks/{id}
func (s *Server) GetWebhookHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := s.Store.GetSubscription(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, "Get webhook failed", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

// PatchWebhookHandler handles PATCH /v1/webhooks/{id} with {"is_active": bool}
func (s *Server) PatchWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if body.IsActive == nil {
		writeProblem(w, http.StatusBadRequest, "Validation failed", "is_active is required", r.URL.Path)
		return
	}
	id := mux.Vars(r)["id"]
	sub, err := s.Store.SetSubscriptionActive(r.Context(), id, *body.IsActive)
	if err != nil {
		s.writeError(w, r, "Update webhook failed", err)
		return
	}
	s.Log.WithField("webhook_id", id).WithField("is_active", sub.IsActive).Info("webhook toggled")
	writeJSON(w, http.StatusOK, viewOf(sub))
}

// DeleteWebhookHandler handles DELETE /v1/webhooks/{id}
func (s *Server) DeleteWebhookHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		s.writeError(w, r, "Delete webhook failed", err)
		return
	}
	s.Log.WithField("webhook_id", id).Info("webhook deleted")
	w.WriteHeader(http.StatusNoContent)
}

// TestWebhookHandler handles POST /v1/webhooks/{id}/test
func (s *Server) TestWebhookHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.Dispatcher.Test(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, "Test delivery failed", err)
		return
	}
	writeJSON(w, http.StatusOK, testResultView{
		Success:      res.Success,
		StatusCode:   res.StatusCode,
		ResponseBody: res.ResponseBody,
		ErrorMessage: res.ErrorMessage,
		DurationMs:   res.DurationMs(),
	})
}

// ListLogsHandler handles GET /v1/webhooks/{id}/logs?limit=N. Logs of deleted webhooks stay readable.
func (s *Server) ListLogsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a non-negative integer", r.URL.Path)
			return
		}
		limit = n
	}
	logs, err := s.Store.ListDeliveryLogs(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, r, "List delivery logs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

// IngestEventHandler handles POST /v1/events for collaborators that report events over HTTP.
func (s *Server) IngestEventHandler(w http.ResponseWriter, r *http.Request) {
	var evt model.DomainEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := evt.Validate(s.now().UTC()); err != nil {
		s.writeError(w, r, "Invalid event", err)
		return
	}
	metrics.DomainEvents.WithLabelValues("http").Inc()
	matched := s.Dispatcher.Dispatch(evt)
	writeJSON(w, http.StatusAccepted, map[string]int{"matched": matched})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// If store supports Ping, use it
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
