package webhooks

import (
	"bytes"
	"encoding/json"
	"time"

	"bruinhooks/internal/model"
)

// wirePayload fixes the key order of the outbound body.
type wirePayload struct {
	EventType string  `json:"event_type"`
	NoteID    *string `json:"note_id"`
	Summary   string  `json:"summary"`
	Actor     string  `json:"actor"`
	AgentID   *string `json:"agent_id"`
	Timestamp string  `json:"timestamp"`
}

// BuildPayload renders the canonical JSON body for evt. The same event always yields the
// same bytes, so the signature is reproducible by the receiver. HTML characters are not
// escaped, matching JSON.stringify and json.dumps.
func BuildPayload(evt model.DomainEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wirePayload{
		EventType: evt.EventType,
		NoteID:    evt.NoteID,
		Summary:   evt.Summary,
		Actor:     evt.Actor,
		AgentID:   evt.AgentID,
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
