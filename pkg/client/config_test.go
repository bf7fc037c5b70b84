package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-protocol/clasp-go/pkg/connection"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("ws://localhost:7330/clasp")

	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultFeatures, cfg.Features)
	assert.Equal(t, "msgpack", cfg.Encoding)
	assert.True(t, cfg.Reconnect)
	assert.Equal(t, connection.ReconnectInterval, cfg.ReconnectBackoff.Initial)
	assert.Equal(t, DefaultSyncInterval, cfg.SyncInterval)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaultsKeepsDisabledFeatures(t *testing.T) {
	cfg := Config{URL: "ws://x/clasp"}
	cfg.applyDefaults()

	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, DefaultGetTimeout, cfg.GetTimeout)
	assert.NotNil(t, cfg.Logger)
	assert.False(t, cfg.Reconnect)
	assert.Zero(t, cfg.SyncInterval)
	assert.Zero(t, cfg.KeepAlive.PingInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.URL = "" }},
		{"unknown encoding", func(c *Config) { c.Encoding = "json" }},
		{"negative sync interval", func(c *Config) { c.SyncInterval = -time.Second }},
		{"negative attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("ws://x/clasp")
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
url: ws://studio.local:7330/clasp
name: lighting-desk
token: abc
encoding: cbor
get_timeout: 250ms
sync_interval: 0s
reconnect: true
max_reconnect_attempts: 3
reconnect_backoff:
  initial: 100ms
  max: 2s
  multiplier: 2
`)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, "ws://studio.local:7330/clasp", cfg.URL)
	assert.Equal(t, "lighting-desk", cfg.Name)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, "cbor", cfg.Encoding)
	assert.Equal(t, 250*time.Millisecond, cfg.GetTimeout)
	assert.Zero(t, cfg.SyncInterval)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.ReconnectBackoff.Initial)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBackoff.Max)
	assert.Equal(t, 2.0, cfg.ReconnectBackoff.Multiplier)

	// Unset keys keep their defaults.
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, DefaultFeatures, cfg.Features)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte("name: [unterminated"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("name: no-url"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: ws://127.0.0.1:7330/clasp\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:7330/clasp", cfg.URL)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
