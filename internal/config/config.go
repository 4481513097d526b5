package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration (node table and postgres broker)
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// WebSocket configuration
	WebSocket WebSocketConfig

	// Cross-process broker configuration
	Broker BrokerConfig

	// Topic join policy
	Policy PolicyConfig

	// Backend publisher authentication
	Publisher PublisherConfig

	// Metrics export
	Telemetry TelemetryConfig

	// Cluster node heartbeat
	Presence PresenceConfig

	// Logging configuration
	Logging LoggingConfig

	// Application metadata
	App AppConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	// Websocket handshakes per second per user
	ConnectionsPerSecond float64
	ConnectionBurst      int
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	SendBufferSize  int
	// Inbound client messages per second per connection
	ClientRPS   float64
	ClientBurst int
	// Close connections whose token expired while open
	EnforceTokenExpiry bool
}

// BrokerConfig selects the cross-process fan-out medium
type BrokerConfig struct {
	Backend string // local, postgres, redis, nats
	URL     string
	Channel string
}

// PolicyConfig selects the topic join authorizer
type PolicyConfig struct {
	Mode string // allow-all, opa
	File string
}

// PublisherConfig holds the bcrypt hashes of accepted service keys
type PublisherConfig struct {
	KeyHashes []string
}

// TelemetryConfig holds OpenTelemetry export configuration
type TelemetryConfig struct {
	OTLPEndpoint   string
	ExportInterval time.Duration
}

// PresenceConfig holds the cluster node heartbeat configuration
type PresenceConfig struct {
	Enabled  bool
	Interval time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string
	Version     string
	Environment string
	NodeID      string
}

const (
	BrokerLocal    = "local"
	BrokerPostgres = "postgres"
	BrokerRedis    = "redis"
	BrokerNATS     = "nats"

	PolicyAllowAll = "allow-all"
	PolicyOPA      = "opa"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", ":8080"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDurationOrDefault("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntOrDefault("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getDurationOrDefault("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getDurationOrDefault("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			Issuer:         os.Getenv("JWT_ISSUER"),
			AccessTokenTTL: getDurationOrDefault("JWT_ACCESS_TOKEN_TTL", 1*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getBoolOrDefault("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getFloatOrDefault("RATE_LIMIT_RPS", 10),
			BurstSize:         getIntOrDefault("RATE_LIMIT_BURST", 20),

			ConnectionsPerSecond: getFloatOrDefault("RATE_LIMIT_CONN_RPS", 1),
			ConnectionBurst:      getIntOrDefault("RATE_LIMIT_CONN_BURST", 10),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins:     getStringSliceOrDefault("WS_ALLOWED_ORIGINS", []string{}),
			ReadBufferSize:     getIntOrDefault("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize:    getIntOrDefault("WS_WRITE_BUFFER_SIZE", 1024),
			PingInterval:       getDurationOrDefault("WS_PING_INTERVAL", 54*time.Second),
			PongWait:           getDurationOrDefault("WS_PONG_WAIT", 60*time.Second),
			WriteWait:          getDurationOrDefault("WS_WRITE_WAIT", 10*time.Second),
			MaxMessageSize:     int64(getIntOrDefault("WS_MAX_MESSAGE_SIZE", 4096)),
			SendBufferSize:     getIntOrDefault("WS_SEND_BUFFER_SIZE", 256),
			ClientRPS:          getFloatOrDefault("WS_CLIENT_RPS", 20),
			ClientBurst:        getIntOrDefault("WS_CLIENT_BURST", 40),
			EnforceTokenExpiry: getBoolOrDefault("WS_ENFORCE_TOKEN_EXPIRY", false),
		},
		Broker: BrokerConfig{
			Backend: getEnvOrDefault("BROKER_BACKEND", BrokerLocal),
			URL:     os.Getenv("BROKER_URL"),
			Channel: getEnvOrDefault("BROKER_CHANNEL", "notify_gateway"),
		},
		Policy: PolicyConfig{
			Mode: getEnvOrDefault("TOPIC_POLICY", PolicyOPA),
			File: os.Getenv("TOPIC_POLICY_FILE"),
		},
		Publisher: PublisherConfig{
			KeyHashes: getStringSliceOrDefault("PUBLISHER_KEY_HASHES", []string{}),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ExportInterval: getDurationOrDefault("OTEL_EXPORT_INTERVAL", 30*time.Second),
		},
		Presence: PresenceConfig{
			Enabled:  getBoolOrDefault("PRESENCE_ENABLED", true),
			Interval: getDurationOrDefault("PRESENCE_INTERVAL", 15*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Name:        getEnvOrDefault("APP_NAME", "notify-gateway"),
			Version:     getEnvOrDefault("APP_VERSION", "dev"),
			Environment: getEnvOrDefault("APP_ENV", "development"),
			NodeID:      getEnvOrDefault("NODE_ID", uuid.NewString()),
		},
	}

	// The postgres broker shares the database unless pointed elsewhere.
	if cfg.Broker.Backend == BrokerPostgres && cfg.Broker.URL == "" {
		cfg.Broker.URL = cfg.Database.URL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	// Required fields
	if c.JWT.Secret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}

	switch c.Broker.Backend {
	case BrokerLocal:
	case BrokerPostgres, BrokerRedis, BrokerNATS:
		if c.Broker.URL == "" {
			errs = append(errs, fmt.Sprintf("BROKER_URL is required for the %s broker", c.Broker.Backend))
		}
	default:
		errs = append(errs, fmt.Sprintf("BROKER_BACKEND %q is not one of local, postgres, redis, nats", c.Broker.Backend))
	}

	switch c.Policy.Mode {
	case PolicyAllowAll, PolicyOPA:
	default:
		errs = append(errs, fmt.Sprintf("TOPIC_POLICY %q is not one of allow-all, opa", c.Policy.Mode))
	}

	// Security validations
	if c.App.Environment == "production" {
		if len(c.JWT.Secret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
		}

		if len(c.WebSocket.AllowedOrigins) == 0 {
			errs = append(errs, "WS_ALLOWED_ORIGINS must be set in production")
		}

		if len(c.Publisher.KeyHashes) == 0 {
			errs = append(errs, "PUBLISHER_KEY_HASHES must be set in production")
		}
	}

	// Logical validations
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, "DB_MAX_IDLE_CONNS cannot be greater than DB_MAX_OPEN_CONNS")
	}

	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, "WS_PING_INTERVAL must be shorter than WS_PONG_WAIT")
	}

	if c.WebSocket.SendBufferSize <= 0 {
		errs = append(errs, "WS_SEND_BUFFER_SIZE must be positive")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// String returns a redacted string representation of the config (safe for logging)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: %s, DB: %s, JWT: [REDACTED], Broker: %s(%s), Policy: %s, Node: %s, Environment: %s}",
		c.Server.Port,
		redactURL(c.Database.URL),
		c.Broker.Backend,
		redactURL(c.Broker.URL),
		c.Policy.Mode,
		c.App.NodeID,
		c.App.Environment,
	)
}

// redactURL redacts sensitive parts of a connection URL
func redactURL(url string) string {
	if url == "" {
		return ""
	}
	if idx := strings.LastIndex(url, "@"); idx > 0 {
		return "[REDACTED]" + url[idx:]
	}
	return "[REDACTED]"
}
