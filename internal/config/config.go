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

type Config struct {
	// HTTP Server
	Port           string
	RateLimitRPS   int
	RateLimitBurst int

	// Catalog of sources, schema table and classification prefixes.
	// Empty means the embedded default.
	CatalogFile string

	// Pipeline
	CacheTTL           time.Duration
	CacheMaxEntries    int
	CacheSweepInterval time.Duration
	FetchTimeout       time.Duration

	// AMQP. An empty URL disables refresh notifications.
	AMQPURL      string
	AMQPExchange string
	// AMQPQueue prefixes the queue each server instance declares.
	AMQPQueue    string

	// Google Sheets sources
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleAPIKey             string

	// Worker
	RefreshInterval time.Duration

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		CatalogFile: getEnv("CATALOG_FILE", ""),

		CacheTTL:           getEnvDuration("CACHE_TTL", time.Hour),
		CacheMaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 64),
		CacheSweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute),
		FetchTimeout:       getEnvDuration("FETCH_TIMEOUT", 30*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "presupuesto.refresh"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "budget_refresh"),

		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleAPIKey:             getEnv("GOOGLE_API_KEY", ""),

		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 6*time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitRPS < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per second", c.RateLimitRPS))
	}
	if c.RateLimitBurst < c.RateLimitRPS {
		errors = append(errors, fmt.Sprintf("invalid rate limit burst %d: must be at least the rate (%d)", c.RateLimitBurst, c.RateLimitRPS))
	}

	if c.CatalogFile != "" {
		if _, err := os.Stat(c.CatalogFile); err != nil {
			errors = append(errors, fmt.Sprintf("catalog file '%s' is not readable: %v", c.CatalogFile, err))
		}
	}

	if c.CacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be positive", c.CacheTTL))
	}
	if c.CacheMaxEntries < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheMaxEntries))
	}
	if c.FetchTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid fetch timeout %v: must be at least 1 second", c.FetchTimeout))
	} else if c.FetchTimeout > 10*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid fetch timeout %v: must be at most 10 minutes", c.FetchTimeout))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if c.RefreshInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid refresh interval %v: must be at least 1 minute", c.RefreshInterval))
	} else if c.RefreshInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid refresh interval %v: must be at most 7 days", c.RefreshInterval))
	}

	if _, ok := parseLevel(c.LogLevel); !ok {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// SlogLevel returns the configured log level, info when unrecognized.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

// HasGoogleCredentials reports whether any Sheets credential is configured.
func (c *Config) HasGoogleCredentials() bool {
	return c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != "" || c.GoogleAPIKey != ""
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
