package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Known domain event types raised by the note, task and agent collaborators.
// Unknown values are forwarded as-is.
const (
	EventNoteCreated  = "note_created"
	EventNoteUpdated  = "note_updated"
	EventNoteDeleted  = "note_deleted"
	EventNoteTrashed  = "note_trashed"
	EventNoteRestored = "note_restored"
	EventNotePinned   = "note_pinned"
	EventStateChanged = "state_changed"

	// EventWebhookTest is the type carried by manual test deliveries.
	EventWebhookTest = "webhook_test"
)

const (
	ActorUser  = "user"
	ActorAgent = "agent"
)

// Subscription is a registered webhook endpoint.
type Subscription struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	EventTypes      []string   `json:"event_types"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	FailureCount    int        `json:"failure_count"`
}

// Matches reports whether an event of the given type should be delivered to s.
// An empty EventTypes set subscribes to every event type.
func (s Subscription) Matches(eventType string) bool {
	if !s.IsActive {
		return false
	}
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or pointers with s.
func (s Subscription) Clone() Subscription {
	out := s
	if s.EventTypes != nil {
		out.EventTypes = append([]string(nil), s.EventTypes...)
	}
	if s.LastTriggeredAt != nil {
		t := *s.LastTriggeredAt
		out.LastTriggeredAt = &t
	}
	return out
}

// SubscriptionInput is the registration request.
type SubscriptionInput struct {
	URL        string   `json:"url" yaml:"url"`
	Secret     string   `json:"secret" yaml:"secret"`
	EventTypes []string `json:"event_types" yaml:"event_types"`
}

// Validate checks the registration input and drops empty or repeated event types. Event
// types are otherwise kept byte-for-byte; matching is exact.
func (in *SubscriptionInput) Validate() error {
	in.URL = strings.TrimSpace(in.URL)
	if in.URL == "" {
		return &ValidationError{Field: "url", Reason: "is required"}
	}
	u, err := url.Parse(in.URL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}
	if in.Secret == "" {
		return &ValidationError{Field: "secret", Reason: "is required"}
	}
	in.EventTypes = normalizeEventTypes(in.EventTypes)
	return nil
}

func normalizeEventTypes(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, t := range in {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// DeliveryLog records a single HTTP delivery attempt. Entries are never mutated.
type DeliveryLog struct {
	ID           string          `json:"id"`
	WebhookID    string          `json:"webhook_id"`
	EventType    string          `json:"event_type"`
	Success      bool            `json:"success"`
	StatusCode   *int            `json:"status_code"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	ResponseBody *string         `json:"response_body"`
	ErrorMessage *string         `json:"error_message"`
	Attempt      int             `json:"attempt"`
	DurationMs   int             `json:"duration_ms"`
}

// DomainEvent is a note/task/agent lifecycle occurrence.
type DomainEvent struct {
	EventType string    `json:"event_type"`
	NoteID    *string   `json:"note_id"`
	Summary   string    `json:"summary"`
	Actor     string    `json:"actor"`
	AgentID   *string   `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks an incoming event and fills a missing timestamp with now.
func (e *DomainEvent) Validate(now time.Time) error {
	if e.EventType == "" {
		return &ValidationError{Field: "event_type", Reason: "is required"}
	}
	switch e.Actor {
	case ActorUser, ActorAgent:
	case "":
		e.Actor = ActorUser
	default:
		return &ValidationError{Field: "actor", Reason: fmt.Sprintf("must be %q or %q", ActorUser, ActorAgent)}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	return nil
}
