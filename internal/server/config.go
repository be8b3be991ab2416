package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the realtime server settings.
type Config struct {
	Port           string
	AllowedOrigins []string
	// MaxMessageSize caps a single inbound WebSocket frame in bytes.
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	SendBufferSize int

	MaxRoomNameLength    int
	MaxChatMessageLength int

	JWTSecret string
	JWTIssuer string

	// NotifyAPIKey guards the internal notify and presence API. The API is
	// not mounted when empty.
	NotifyAPIKey string

	NATSURL           string
	NATSSubjectPrefix string

	LogLevel  string
	LogFormat string

	ShutdownTimeout time.Duration
}

const (
	defaultPort                 = ":8080"
	defaultMaxMessageSize       = 8192
	defaultSendBufferSize       = 256
	defaultMaxRoomNameLength    = 128
	defaultMaxChatMessageLength = 4000
	defaultNATSSubjectPrefix    = "notify"
	defaultShutdownTimeout      = 30 * time.Second
)

// ErrMissingJWTSecret is returned by Validate when no signing secret is set.
var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		SendBufferSize:       defaultSendBufferSize,
		MaxRoomNameLength:    defaultMaxRoomNameLength,
		MaxChatMessageLength: defaultMaxChatMessageLength,
		NATSSubjectPrefix:    defaultNATSSubjectPrefix,
		LogLevel:             "info",
		LogFormat:            "console",
		ShutdownTimeout:      defaultShutdownTimeout,
	}
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset or unparsable.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}
	if n := os.Getenv("MAX_ROOM_NAME_LENGTH"); n != "" {
		cfg.MaxRoomNameLength = parseIntValue(n, cfg.MaxRoomNameLength)
	}
	if n := os.Getenv("MAX_CHAT_MESSAGE_LENGTH"); n != "" {
		cfg.MaxChatMessageLength = parseIntValue(n, cfg.MaxChatMessageLength)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.JWTIssuer = os.Getenv("JWT_ISSUER")
	cfg.NotifyAPIKey = os.Getenv("NOTIFY_API_KEY")
	cfg.NATSURL = os.Getenv("NATS_URL")

	if prefix := os.Getenv("NATS_SUBJECT_PREFIX"); prefix != "" {
		cfg.NATSSubjectPrefix = prefix
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}

	return &cfg
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

// sanitize replaces out-of-range values with defaults and returns a copy.
func (c Config) sanitize() Config {
	def := defaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	if c.MaxRoomNameLength <= 0 {
		c.MaxRoomNameLength = def.MaxRoomNameLength
	}
	if c.MaxChatMessageLength <= 0 {
		c.MaxChatMessageLength = def.MaxChatMessageLength
	}
	if c.NATSSubjectPrefix == "" {
		c.NATSSubjectPrefix = def.NATSSubjectPrefix
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)

	return c
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("500ms", "2s") or a bare
// number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
