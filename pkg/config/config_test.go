package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "login.icq.com:5190", cfg.Server.Login)
	assert.Equal(t, protocol.GenerationTCPv7, cfg.Generation())
	assert.Equal(t, "./data/icq.db", cfg.Storage.Path)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 100, cfg.API.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Server.Keepalive)
	assert.Equal(t, 100, cfg.Server.MaxUsersPerPacket)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.ErrorIs(t, cfg.Validate(true), ErrNoAccount)
	assert.NoError(t, cfg.Validate(false))
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
account:
  id: "12345"
  status: away
server:
  keepalive: 45s
  generation: tcp-v7
api:
  port: 9090
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "12345", cfg.Account.ID)
	assert.Equal(t, protocol.StatusAway, cfg.Status())
	assert.Equal(t, 45*time.Second, cfg.Server.Keepalive)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "login.icq.com:5190", cfg.Server.Login, "missing keys keep defaults")
	assert.NoError(t, cfg.Validate(true))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"bad generation", func(c *Config) { c.Server.Generation = "tcp-v9" }, protocol.ErrUnsupportedGeneration},
		{"bad status", func(c *Config) { c.Account.Status = "asleep" }, protocol.ErrUnknownStatus},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, ErrBadPort},
		{"backoff", func(c *Config) { c.Server.ReconnectMin = time.Minute }, ErrBadBackoff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Account.ID = "1"
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(true), tt.want)
		})
	}

	t.Run("api disabled skips port", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.API.Enabled = false
		cfg.API.Port = 0
		assert.NoError(t, cfg.Validate(false))
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Account.ID = "777"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
