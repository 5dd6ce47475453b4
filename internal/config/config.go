package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Port is the HTTP server port.
	Port int

	// APISecret authorizes write operations (submit, remove, seen) and
	// authenticated reads. Compared for equality; no other auth exists.
	APISecret string

	// CronSecret authorizes the scheduled cleanup endpoint via a bearer
	// token, so the cron caller never holds the API secret.
	CronSecret string

	// RedisURL selects the Redis store backend when set. When empty the
	// server falls back to the embedded SQLite store at SQLitePath.
	RedisURL string

	// SQLitePath is the embedded store location used without Redis.
	SQLitePath string

	// Retention is how long tweets live before the cleanup sweep deletes
	// them.
	Retention time.Duration

	// CleanupInterval is how often the background sweep runs.
	CleanupInterval time.Duration

	// PollInterval is the SSE transport's snapshot-diff interval.
	PollInterval time.Duration

	// SeedTweetIDs is a static fallback list served to readers when the
	// store is unavailable. Display only; writes never touch it.
	SeedTweetIDs []string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port := 3000
	if p := os.Getenv("PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
	}

	apiSecret := os.Getenv("TWEETWALL_API_SECRET")
	if apiSecret == "" {
		return nil, fmt.Errorf("TWEETWALL_API_SECRET is required")
	}

	sqlitePath := os.Getenv("TWEETWALL_SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "tweetwall.db"
	}

	retention, err := durationEnv("TWEETWALL_RETENTION", 72*time.Hour)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := durationEnv("TWEETWALL_CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	pollInterval, err := durationEnv("TWEETWALL_POLL_INTERVAL", 3*time.Second)
	if err != nil {
		return nil, err
	}

	var seedIDs []string
	if seeds := os.Getenv("TWEETWALL_SEED_TWEET_IDS"); seeds != "" {
		for _, id := range strings.Split(seeds, ",") {
			if id = strings.TrimSpace(id); id != "" {
				seedIDs = append(seedIDs, id)
			}
		}
	}

	return &Config{
		Port:            port,
		APISecret:       apiSecret,
		CronSecret:      os.Getenv("TWEETWALL_CRON_SECRET"),
		RedisURL:        os.Getenv("REDIS_URL"),
		SQLitePath:      sqlitePath,
		Retention:       retention,
		CleanupInterval: cleanupInterval,
		PollInterval:    pollInterval,
		SeedTweetIDs:    seedIDs,
	}, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
