package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"bruinhooks/internal/config"
	"bruinhooks/internal/metrics"
	"bruinhooks/internal/model"
	"bruinhooks/internal/store"
	"bruinhooks/internal/webhooks"
)

// Dispatcher is what the management surface needs from the delivery engine.
type Dispatcher interface {
	Dispatch(evt model.DomainEvent) int
	Test(ctx context.Context, id string) (webhooks.Result, error)
}

type Server struct {
	Store      store.Store
	Dispatcher Dispatcher
	Broker     *Broker
	Log        logrus.FieldLogger
	Config     *config.Config

	now func() time.Time
}

func NewServer(st store.Store, d Dispatcher, b *Broker, log logrus.FieldLogger, cfg *config.Config) *Server {
	if b == nil {
		b = NewBroker()
	}
	return &Server{Store: st, Dispatcher: d, Broker: b, Log: log, Config: cfg, now: time.Now}
}

// Routes builds the HTTP handler with access logging and request metrics.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/webhooks", s.CreateWebhookHandler).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks", s.ListWebhooksHandler).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}", s.GetWebhookHandler).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}", s.PatchWebhookHandler).Methods(http.MethodPatch)
	v1.HandleFunc("/webhooks/{id}", s.DeleteWebhookHandler).Methods(http.MethodDelete)
	v1.HandleFunc("/webhooks/{id}/test", s.TestWebhookHandler).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}/logs", s.ListLogsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}/logs/stream", s.LogStreamHandler).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.IngestEventHandler).Methods(http.MethodPost)

	// Health
	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.ReadyHandler).Methods(http.MethodGet)

	// Admin
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/debug/info", s.DebugJSON).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", req.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", req.URL.Path)
	})
	r.Use(s.logMiddleware)
	return r
}
