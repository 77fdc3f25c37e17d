package api

import (
	"net/http"
	"time"

	"bruinhooks/internal/buildinfo"
)

// DebugJSON reports build info and the non-secret parts of the running configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  s.now().UTC().Format(time.RFC3339),
	}
	if c := s.Config; c != nil {
		info["config"] = map[string]any{
			"PORT":                    c.Server.Port,
			"WEBHOOK_MAX_ATTEMPTS":    c.Webhook.MaxAttempts,
			"WEBHOOK_INITIAL_BACKOFF": c.Webhook.InitialBackoff.String(),
			"WEBHOOK_MAX_BACKOFF":     c.Webhook.MaxBackoff.String(),
			"WEBHOOK_ATTEMPT_TIMEOUT": c.Webhook.AttemptTimeout.String(),
			"WEBHOOK_MAX_IN_FLIGHT":   c.Webhook.MaxInFlight,
			"WEBHOOK_RATE_PER_SEC":    c.Webhook.RatePerSec,
			"LOG_RETENTION":           c.Retention.MaxAge.String(),
			"HAS_DATABASE_URL":        c.Database.URL != "",
			"HAS_REDIS_URL":           c.Redis.URL != "",
		}
	}
	writeJSON(w, http.StatusOK, info)
}
