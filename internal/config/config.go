package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const ndwBase = "https://opendata.ndw.nu"

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DatabaseURL string `json:"databaseUrl"`
	RedisURL    string `json:"redisUrl"`
	HTTPAddr    string `json:"httpAddr"`

	Feeds  Feeds  `json:"feeds"`
	Ingest Ingest `json:"ingest"`
	Fanout Fanout `json:"fanout"`

	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`
}

// Feeds holds the NDW payload endpoints and polling cadence.
type Feeds struct {
	MeasurementURL  string        `json:"measurementUrl"`
	TrafficSpeedURL string        `json:"trafficSpeedUrl"`
	TravelTimeURL   string        `json:"travelTimeUrl"`
	PollInterval    time.Duration `json:"pollInterval"`
	// ReferenceInterval controls how often the site reference payload is
	// re-polled; reference data changes rarely.
	ReferenceInterval time.Duration `json:"referenceInterval"`
	FetchTimeout      time.Duration `json:"fetchTimeout"`
	FetchAttempts     int           `json:"fetchAttempts"`
	FetchBackoff      time.Duration `json:"fetchBackoff"`
}

// UnmarshalJSON accepts durations as strings ("60s") in addition to
// nanosecond integers, matching what the env overlay accepts.
func (f *Feeds) UnmarshalJSON(data []byte) error {
	type feeds Feeds
	aux := struct {
		*feeds
		PollInterval      json.RawMessage `json:"pollInterval"`
		ReferenceInterval json.RawMessage `json:"referenceInterval"`
		FetchTimeout      json.RawMessage `json:"fetchTimeout"`
		FetchBackoff      json.RawMessage `json:"fetchBackoff"`
	}{feeds: (*feeds)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	for _, d := range []struct {
		raw json.RawMessage
		dst *time.Duration
	}{
		{aux.PollInterval, &f.PollInterval},
		{aux.ReferenceInterval, &f.ReferenceInterval},
		{aux.FetchTimeout, &f.FetchTimeout},
		{aux.FetchBackoff, &f.FetchBackoff},
	} {
		if err := unmarshalDuration(d.dst, d.raw); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalDuration(dst *time.Duration, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*dst = d
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("duration must be a string or nanoseconds: %s", raw)
	}
	*dst = time.Duration(n)
	return nil
}

// Ingest holds persistence batching limits.
type Ingest struct {
	BatchSize int `json:"batchSize"`
	// InFlightBatches bounds the decode-ahead while a batch is being
	// written.
	InFlightBatches int `json:"inFlightBatches"`
	BatchAttempts   int `json:"batchAttempts"`
}

// Fanout holds per-consumer delivery limits.
type Fanout struct {
	// QueueDepth is the bounded number of pending snapshots per consumer.
	QueueDepth int `json:"queueDepth"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Feeds: Feeds{
			MeasurementURL:    ndwBase + "/measurement.xml.gz",
			TrafficSpeedURL:   ndwBase + "/trafficspeed.xml.gz",
			TravelTimeURL:     ndwBase + "/traveltime.xml.gz",
			PollInterval:      60 * time.Second,
			ReferenceInterval: time.Hour,
			FetchTimeout:      60 * time.Second,
			FetchAttempts:     3,
			FetchBackoff:      2 * time.Second,
		},
		Ingest: Ingest{
			BatchSize:       500,
			InFlightBatches: 2,
			BatchAttempts:   3,
		},
		Fanout: Fanout{
			QueueDepth: 16,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate reports configuration the process cannot start without.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required (STROOMWEG_DATABASE_URL)")
	}
	if c.RedisURL == "" {
		return errors.New("redis URL is required (STROOMWEG_REDIS_URL)")
	}
	return nil
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
