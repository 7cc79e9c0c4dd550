package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FromEnv overlays STROOMWEG_* environment variables onto cfg. A .env file
// in the working directory is loaded first when present.
func FromEnv(cfg *Config) {
	_ = godotenv.Load(".env")

	setString(&cfg.DatabaseURL, "STROOMWEG_DATABASE_URL", "DATABASE_URL")
	setString(&cfg.RedisURL, "STROOMWEG_REDIS_URL", "REDIS_URL")
	setString(&cfg.HTTPAddr, "STROOMWEG_HTTP_ADDR")

	setString(&cfg.Feeds.MeasurementURL, "STROOMWEG_MEASUREMENT_URL")
	setString(&cfg.Feeds.TrafficSpeedURL, "STROOMWEG_TRAFFICSPEED_URL")
	setString(&cfg.Feeds.TravelTimeURL, "STROOMWEG_TRAVELTIME_URL")
	setDuration(&cfg.Feeds.PollInterval, "STROOMWEG_POLL_INTERVAL")
	setDuration(&cfg.Feeds.ReferenceInterval, "STROOMWEG_REFERENCE_INTERVAL")
	setDuration(&cfg.Feeds.FetchTimeout, "STROOMWEG_FETCH_TIMEOUT")
	setInt(&cfg.Feeds.FetchAttempts, "STROOMWEG_FETCH_ATTEMPTS")
	setDuration(&cfg.Feeds.FetchBackoff, "STROOMWEG_FETCH_BACKOFF")

	setInt(&cfg.Ingest.BatchSize, "STROOMWEG_BATCH_SIZE")
	setInt(&cfg.Ingest.InFlightBatches, "STROOMWEG_INFLIGHT_BATCHES")
	setInt(&cfg.Ingest.BatchAttempts, "STROOMWEG_BATCH_ATTEMPTS")

	setInt(&cfg.Fanout.QueueDepth, "STROOMWEG_QUEUE_DEPTH")

	setString(&cfg.LogLevel, "STROOMWEG_LOG_LEVEL")
	setString(&cfg.LogFormat, "STROOMWEG_LOG_FORMAT")
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
