// Package config provides environment configuration for the chat platform.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all configuration for the application. Settings are derived
// once at load time; backend availability is a static boot-time check, not a
// live health probe.
type Config struct {
	mu sync.RWMutex

	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Database settings
	DatabaseURL string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Chat settings
	MaxMessagesPage int
	ForceMockMode   bool

	// Feature toggles
	features map[string]bool

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	backendAvailable bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	c := &Config{}
	c.load()
	return c
}

func (c *Config) load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Server
	c.ServerPort = getEnv("PORT", "8080")
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second)

	// Database
	c.DatabaseURL = getEnv("DATABASE_URL", "")

	// NATS
	c.NATSURL = getEnv("NATS_URL", "")
	c.NATSCAFile = getEnv("NATS_CA_FILE", "")
	c.NATSCertFile = getEnv("NATS_CERT_FILE", "")
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", "")
	c.NATSToken = getEnv("NATS_TOKEN", "")

	// JWT
	c.JWTSecret = getEnv("JWT_SECRET", "development-secret-change-in-production")
	c.JWTExpiration = getDurationEnv("JWT_EXPIRATION", 15*time.Minute)

	// Rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", 60)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", time.Minute)

	// Chat
	c.MaxMessagesPage = getIntEnv("MAX_MESSAGES_PER_PAGE", 50)
	c.ForceMockMode = getBoolEnv("FORCE_MOCK_MODE", false)

	// Features: comma-separated list of enabled feature names.
	c.features = make(map[string]bool)
	for _, name := range strings.Split(getEnv("FEATURES", ""), ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			c.features[strings.ToLower(name)] = true
		}
	}

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", "info")

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", "localhost:4318")
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", false)

	c.backendAvailable = backendConfigured(c.DatabaseURL)
}

// backendConfigured checks the presence and shape of the backend connection
// settings: a parseable URL with a non-empty host and a credential of
// plausible length. It does not probe the backend.
func backendConfigured(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || u.User == nil {
		return false
	}
	password, ok := u.User.Password()
	if !ok || len(password) < 8 {
		return false
	}
	return true
}

// IsBackendAvailable reports whether the persistent backend is configured.
func (c *Config) IsBackendAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backendAvailable
}

// ShouldUseFallbackData reports whether the in-memory fallback dataset should
// serve as the source of truth.
func (c *Config) ShouldUseFallbackData() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ForceMockMode || !c.backendAvailable
}

// MaxMessagesPerPage returns the message page size cap.
func (c *Config) MaxMessagesPerPage() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MaxMessagesPage
}

// IsFeatureEnabled reports whether a named feature toggle is on.
func (c *Config) IsFeatureEnabled(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.features[strings.ToLower(name)]
}

// Reload re-derives configuration from the environment. Development only.
func (c *Config) Reload() {
	c.load()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
