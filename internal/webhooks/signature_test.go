package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bruinhooks/internal/model"
)

func TestSignDeterministic(t *testing.T) {
	body := []byte(`{"event_type":"note_created"}`)
	assert.Equal(t, Sign(body, "s1"), Sign(body, "s1"))
	assert.NotEqual(t, Sign(body, "s1"), Sign(body, "s2"))
	assert.Len(t, Sign(body, "s1"), 64)
	// well-known vector
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		Sign([]byte("The quick brown fox jumps over the lazy dog"), "key"))
}

func TestSignChangesWithEveryPayloadField(t *testing.T) {
	note, agent := "n1", "a1"
	base := model.DomainEvent{
		EventType: model.EventNoteCreated,
		NoteID:    &note,
		Summary:   "hello",
		Actor:     model.ActorAgent,
		AgentID:   &agent,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	sig := func(e model.DomainEvent) string {
		b, err := BuildPayload(e)
		require.NoError(t, err)
		return Sign(b, "s1")
	}
	ref := sig(base)
	assert.Equal(t, ref, sig(base))

	other := "n2"
	mutations := map[string]func(e *model.DomainEvent){
		"event_type": func(e *model.DomainEvent) { e.EventType = model.EventNoteUpdated },
		"note_id":    func(e *model.DomainEvent) { e.NoteID = &other },
		"no note_id": func(e *model.DomainEvent) { e.NoteID = nil },
		"summary":    func(e *model.DomainEvent) { e.Summary = "hello!" },
		"actor":      func(e *model.DomainEvent) { e.Actor = model.ActorUser },
		"agent_id":   func(e *model.DomainEvent) { e.AgentID = nil },
		"timestamp":  func(e *model.DomainEvent) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := base
			mutate(&e)
			assert.NotEqual(t, ref, sig(e))
		})
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"a":1}`)
	h := SignatureHeaderValue(body, "s1")
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, h)
	assert.True(t, Verify(body, "s1", h))
	assert.True(t, Verify(body, "s1", Sign(body, "s1")))
	assert.False(t, Verify(body, "s2", h))
	assert.False(t, Verify([]byte(`{"a":2}`), "s1", h))
	assert.False(t, Verify(body, "s1", "sha256=zz"))
}
