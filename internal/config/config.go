// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string
	Assistant AssistantConfig
	Reconnect ReconnectConfig
	EventLog  EventLogConfig
	Stub      StubConfig
}

// AssistantConfig describes how the chat client reaches the assistant service.
type AssistantConfig struct {
	SocketURL        string
	ChatURL          string
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	ReplyTimeout     time.Duration // 0 waits for persistent-channel replies indefinitely
	Greeting         string
	DisableSocket    bool
}

// ReconnectConfig controls handshake retries after the persistent channel fails.
type ReconnectConfig struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration // 0 retries forever
}

// EventLogConfig controls NDJSON conversation event logging.
type EventLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// StubConfig holds settings for the development assistant service.
type StubConfig struct {
	Port           string
	DBPath         string
	RedisURL       string
	CacheTTL       time.Duration
	AllowedOrigins []string
	TypingDelay    time.Duration
}

const defaultGreeting = "Hello! How can I help you today?"

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CHAT_EVENT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Assistant: AssistantConfig{
			SocketURL:        getEnv("ASSISTANT_WS_URL", "ws://localhost:8000/ws/chat"),
			ChatURL:          getEnv("ASSISTANT_HTTP_URL", "http://127.0.0.1:8000/chat"),
			HandshakeTimeout: getEnvDuration("ASSISTANT_HANDSHAKE_TIMEOUT", 5*time.Second),
			RequestTimeout:   getEnvDuration("ASSISTANT_REQUEST_TIMEOUT", 30*time.Second),
			ReplyTimeout:     getEnvDuration("ASSISTANT_REPLY_TIMEOUT", 60*time.Second),
			Greeting:         getEnv("CHAT_GREETING", defaultGreeting),
		},
		Reconnect: ReconnectConfig{
			Enabled:         getEnvBool("RECONNECT_ENABLED", false),
			InitialInterval: getEnvDuration("RECONNECT_INITIAL_INTERVAL", time.Second),
			MaxInterval:     getEnvDuration("RECONNECT_MAX_INTERVAL", 30*time.Second),
			MaxElapsed:      getEnvDuration("RECONNECT_MAX_ELAPSED", 0),
		},
		EventLog: EventLogConfig{
			Enabled:   getEnvBool("CHAT_EVENT_LOG_ENABLED", false),
			Dir:       getEnv("CHAT_EVENT_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
		Stub: StubConfig{
			Port:           getEnv("PORT", "8000"),
			DBPath:         getEnv("STUB_DB_PATH", ":memory:"),
			RedisURL:       getEnv("REDIS_URL", ""),
			CacheTTL:       getEnvDuration("STUB_CACHE_TTL", 10*time.Minute),
			AllowedOrigins: getEnvList("STUB_ALLOWED_ORIGINS", []string{"*"}),
			TypingDelay:    getEnvDuration("STUB_TYPING_DELAY", 300*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if err := validateURL("ASSISTANT_WS_URL", c.Assistant.SocketURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("ASSISTANT_HTTP_URL", c.Assistant.ChatURL, "http", "https"); err != nil {
		return err
	}
	if c.Assistant.HandshakeTimeout <= 0 {
		return fmt.Errorf("ASSISTANT_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.Assistant.RequestTimeout <= 0 {
		return fmt.Errorf("ASSISTANT_REQUEST_TIMEOUT must be > 0")
	}
	if c.Assistant.ReplyTimeout < 0 {
		return fmt.Errorf("ASSISTANT_REPLY_TIMEOUT cannot be negative")
	}
	if c.Reconnect.Enabled {
		if c.Reconnect.InitialInterval <= 0 {
			return fmt.Errorf("RECONNECT_INITIAL_INTERVAL must be > 0")
		}
		if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
			return fmt.Errorf("RECONNECT_MAX_INTERVAL must be >= RECONNECT_INITIAL_INTERVAL")
		}
	}
	if c.EventLog.Enabled && c.EventLog.Dir == "" {
		return fmt.Errorf("CHAT_EVENT_LOG_DIR cannot be empty")
	}
	if c.EventLog.QueueSize <= 0 {
		return fmt.Errorf("CHAT_EVENT_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Stub.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Stub.DBPath == "" {
		return fmt.Errorf("STUB_DB_PATH cannot be empty")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s is not a valid URL: %q", key, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v, got %q", key, schemes, u.Scheme)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
