// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/opennotes-ai/opennotes-sub009/tiers"
)

// Config holds all application configuration.
type Config struct {
	// Corpus store settings. DatabaseURL wins when both are set; with
	// neither set the engine requires injected collaborators.
	DatabaseURL string // Postgres URL for the notes/ratings corpus.
	SQLitePath  string // Embedded SQLite file for local runs and tests.

	// Tier engine settings.
	ScorerTimeout time.Duration
	TierOverride  string // Tier name pinning detection; empty means adaptive.
	NoteCountTTL  time.Duration

	// Bayesian prior settings.
	PriorWeight             float64
	PriorMean               float64
	MinRatingsForConfidence int
	SyncPrior               bool // Pull the system average into the prior before a run.

	// Batch run settings.
	Workers   int
	BatchSize int // Notes fetched per scoring run.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults. All parse failures are reported together.
func Load() (Config, error) {
	var errs []error

	intVal := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	floatVal := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolVal := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durVal := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		DatabaseURL:             envStr("OPENNOTES_DATABASE_URL", ""),
		SQLitePath:              envStr("OPENNOTES_SQLITE_PATH", ""),
		ScorerTimeout:           durVal("OPENNOTES_SCORER_TIMEOUT", 30*time.Second),
		TierOverride:            envStr("OPENNOTES_TIER_OVERRIDE", ""),
		NoteCountTTL:            durVal("OPENNOTES_NOTE_COUNT_TTL", time.Minute),
		PriorWeight:             floatVal("OPENNOTES_PRIOR_WEIGHT", 2.0),
		PriorMean:               floatVal("OPENNOTES_PRIOR_MEAN", 0.5),
		MinRatingsForConfidence: intVal("OPENNOTES_MIN_RATINGS", 5),
		SyncPrior:               boolVal("OPENNOTES_SYNC_PRIOR", true),
		Workers:                 intVal("OPENNOTES_WORKERS", 4),
		BatchSize:               intVal("OPENNOTES_BATCH_SIZE", 500),
		OTELEndpoint:            envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:            boolVal("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:             envStr("OTEL_SERVICE_NAME", "opennotes-scoring"),
		LogLevel:                envStr("OPENNOTES_LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field consistency.
func (c Config) Validate() error {
	if c.ScorerTimeout <= 0 {
		return fmt.Errorf("config: OPENNOTES_SCORER_TIMEOUT must be positive")
	}
	if c.NoteCountTTL <= 0 {
		return fmt.Errorf("config: OPENNOTES_NOTE_COUNT_TTL must be positive")
	}
	if c.PriorWeight <= 0 {
		return fmt.Errorf("config: OPENNOTES_PRIOR_WEIGHT must be positive")
	}
	if c.PriorMean < 0 || c.PriorMean > 1 {
		return fmt.Errorf("config: OPENNOTES_PRIOR_MEAN must be within [0,1]")
	}
	if c.MinRatingsForConfidence <= 0 {
		return fmt.Errorf("config: OPENNOTES_MIN_RATINGS must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: OPENNOTES_WORKERS must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: OPENNOTES_BATCH_SIZE must be positive")
	}
	if c.TierOverride != "" {
		if _, err := tiers.ParseTier(c.TierOverride); err != nil {
			return fmt.Errorf("config: OPENNOTES_TIER_OVERRIDE: %w", err)
		}
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
