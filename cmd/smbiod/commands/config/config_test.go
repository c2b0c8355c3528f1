package config

import (
	"encoding/json"
	"testing"

	"github.com/marmos91/smbiod/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	out, err := generateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(out, &schema))
	assert.Equal(t, "smbiod Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"logging", "connection", "transport", "client"} {
		assert.Contains(t, props, key)
	}
	assert.NotContains(t, string(out), `"password"`)
}

func TestWarnings(t *testing.T) {
	cfg := config.GetDefaultConfig()
	assert.Contains(t, warnings(cfg), "client.username is empty: sessions log on anonymously")

	cfg.Client.Username = "alice"
	cfg.Connection.KeepaliveInterval = cfg.Connection.UnresponsiveWindow
	assert.Empty(t, warnings(cfg))

	cfg.Connection.MaxSendAttempts = 1
	assert.Len(t, warnings(cfg), 1)
}
