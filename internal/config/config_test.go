package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("NODE_ID", "node-a")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BrokerLocal, cfg.Broker.Backend)
	assert.Equal(t, PolicyOPA, cfg.Policy.Mode)
	assert.Equal(t, "node-a", cfg.App.NodeID)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.False(t, cfg.WebSocket.EnforceTokenExpiry)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_PostgresBrokerFallsBackToDatabaseURL(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("BROKER_BACKEND", BrokerPostgres)
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/notify")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/notify", cfg.Broker.URL)
	assert.NotContains(t, cfg.String(), "u:p")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWT:       JWTConfig{Secret: "secret"},
			Broker:    BrokerConfig{Backend: BrokerLocal},
			Policy:    PolicyConfig{Mode: PolicyAllowAll},
			WebSocket: WebSocketConfig{PingInterval: time.Second, PongWait: 2 * time.Second, SendBufferSize: 8},
			App:       AppConfig{Environment: "development"},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing secret", func(t *testing.T) {
		cfg := base()
		cfg.JWT.Secret = ""
		assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET is required")
	})

	t.Run("remote broker without url", func(t *testing.T) {
		cfg := base()
		cfg.Broker.Backend = BrokerRedis
		assert.ErrorContains(t, cfg.Validate(), "BROKER_URL is required")
	})

	t.Run("unknown broker", func(t *testing.T) {
		cfg := base()
		cfg.Broker.Backend = "kafka"
		assert.ErrorContains(t, cfg.Validate(), "BROKER_BACKEND")
	})

	t.Run("ping not shorter than pong wait", func(t *testing.T) {
		cfg := base()
		cfg.WebSocket.PingInterval = cfg.WebSocket.PongWait
		assert.ErrorContains(t, cfg.Validate(), "WS_PING_INTERVAL")
	})

	t.Run("production requirements", func(t *testing.T) {
		cfg := base()
		cfg.App.Environment = "production"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 32 characters")
		assert.Contains(t, err.Error(), "WS_ALLOWED_ORIGINS")
		assert.Contains(t, err.Error(), "PUBLISHER_KEY_HASHES")
	})
}
