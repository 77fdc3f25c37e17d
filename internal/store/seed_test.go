package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bruinhooks/internal/model"
)

const seedYAML = `
subscriptions:
  - url: https://a.example/hook
    secret: s1
    event_types: [note_created, note_updated]
  - url: https://b.example/hook
    secret: s2
`

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	inputs, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, "https://a.example/hook", inputs[0].URL)
	assert.Equal(t, []string{"note_created", "note_updated"}, inputs[0].EventTypes)
	assert.Empty(t, inputs[1].EventTypes)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplySeedSkipsRegisteredURLs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.CreateSubscription(ctx, model.SubscriptionInput{URL: "https://a.example/hook", Secret: "old"})
	require.NoError(t, err)

	inputs := []model.SubscriptionInput{
		{URL: "https://a.example/hook", Secret: "s1"},
		{URL: "https://b.example/hook", Secret: "s2"},
	}
	n, err := ApplySeed(ctx, m, inputs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = ApplySeed(ctx, m, inputs)
	require.NoError(t, err)
	assert.Zero(t, n, "second run is a no-op")

	list, _ := m.ListSubscriptions(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, "old", list[0].Secret)
}

func TestApplySeedRejectsInvalidEntry(t *testing.T) {
	_, err := ApplySeed(context.Background(), NewMemory(), []model.SubscriptionInput{{URL: "ftp://x", Secret: "s"}})
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}
