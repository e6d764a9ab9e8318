package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // postgres:// or mongodb://; empty selects SQLite
	RedisURL    string
	SQLitePath  string

	// Event feed
	KafkaBrokers []string
	KafkaTopic   string

	// Realtime
	SnapshotFlushInterval time.Duration
	SnapshotCacheTTL      time.Duration
	MaxSnapshotBytes      int
	HistoryDepth          int
	MessageRate           float64 // inbound messages per second per connection
	MessageBurst          int
	AllowedOrigins        []string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8000"),
		Env:                   getEnv("ENV", "development"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		SQLitePath:            getEnv("SQLITE_PATH", "./data/boardsync.db"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "board.snapshots"),
		SnapshotFlushInterval: getDuration("SNAPSHOT_FLUSH_INTERVAL", 5*time.Second),
		SnapshotCacheTTL:      getDuration("SNAPSHOT_CACHE_TTL", 24*time.Hour),
		MaxSnapshotBytes:      getInt("MAX_SNAPSHOT_BYTES", 2<<20),
		HistoryDepth:          getInt("HISTORY_DEPTH", 50),
		MessageRate:           getFloat("MESSAGE_RATE", 30),
		MessageBurst:          getInt("MESSAGE_BURST", 60),
		AllowedOrigins:        splitList(getEnv("ALLOWED_ORIGINS", "*")),
		RateLimitWhitelist:    splitList(os.Getenv("RATE_LIMIT_WHITELIST")),
		AutoBlockEnabled:      getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// In production, require a real database
	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		panic("DATABASE_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// StoreDriver names the DataStore backend selected by DatabaseURL.
func (c *Config) StoreDriver() string {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(c.DatabaseURL, "mongodb://"), strings.HasPrefix(c.DatabaseURL, "mongodb+srv://"):
		return "mongo"
	default:
		return "sqlite"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
