package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPrefersPrimary(t *testing.T) {
	cfg := &Config{APIKey: "primary", LegacyAPIKey: "legacy"}
	assert.Equal(t, "primary", cfg.Key())

	cfg.APIKey = ""
	assert.Equal(t, "legacy", cfg.Key())

	cfg.LegacyAPIKey = ""
	assert.Empty(t, cfg.Key())
	assert.False(t, cfg.HasCredentials())
}

func TestCredentialsChanged(t *testing.T) {
	base := &Config{Endpoint: "https://hub.example.com", APIKey: "a", LegacyAPIKey: "b"}

	same := *base
	assert.False(t, CredentialsChanged(base, &same))

	rotatedKey := *base
	rotatedKey.APIKey = "a2"
	assert.True(t, CredentialsChanged(base, &rotatedKey))

	rotatedLegacy := *base
	rotatedLegacy.LegacyAPIKey = "b2"
	assert.True(t, CredentialsChanged(base, &rotatedLegacy))

	movedEndpoint := *base
	movedEndpoint.Endpoint = "https://other.example.com"
	assert.True(t, CredentialsChanged(base, &movedEndpoint))

	// Non-credential fields never force a reconnect.
	tuned := *base
	tuned.MaxDownloadAttempts = 9
	tuned.MinFreeDiskGB = 50
	assert.False(t, CredentialsChanged(base, &tuned))
}

func TestStoreSetReportsRotation(t *testing.T) {
	store := NewStore(&Config{Endpoint: "https://hub.example.com", APIKey: "a"})

	assert.False(t, store.Set(&Config{Endpoint: "https://hub.example.com", APIKey: "a", Enabled: true}))
	assert.True(t, store.Set(&Config{Endpoint: "https://hub.example.com", APIKey: "z"}))
	assert.Equal(t, "z", store.Get().APIKey)
}
