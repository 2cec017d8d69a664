package notify

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config tunes the dispatcher loop.
type Config struct {
	// InitialDelay postpones the first poll after Start.
	InitialDelay time.Duration
	// Interval is the poll cadence when the queue is drained.
	Interval time.Duration
	// MaxAttempts is the delivery attempt ceiling; a notification that
	// reaches it stays PENDING but is never claimed again.
	MaxAttempts int
	// MaxRescheduleDelay caps the exponential backoff between attempts.
	MaxRescheduleDelay time.Duration
	// RetentionMaxAge, when positive, enables the sweep of OK
	// notifications last attempted more than this long ago.
	RetentionMaxAge time.Duration
	// RetentionInterval is the sweep cadence when retention is enabled.
	RetentionInterval time.Duration
}

// DefaultConfig returns the dispatcher defaults. Retention is off.
func DefaultConfig() Config {
	return Config{
		InitialDelay:       0,
		Interval:           time.Second,
		MaxAttempts:        10,
		MaxRescheduleDelay: 60 * time.Second,
		RetentionMaxAge:    0,
		RetentionInterval:  time.Hour,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by RDF_NOTIFICATIONS_*
// environment variables. Unset variables keep their defaults; malformed
// values are an error rather than a silent fallback.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error
	if cfg.InitialDelay, err = durationFromEnv("RDF_NOTIFICATIONS_INITIAL_DELAY", cfg.InitialDelay); err != nil {
		return cfg, err
	}
	if cfg.Interval, err = durationFromEnv("RDF_NOTIFICATIONS_INTERVAL", cfg.Interval); err != nil {
		return cfg, err
	}
	if cfg.MaxRescheduleDelay, err = durationFromEnv("RDF_NOTIFICATIONS_MAX_RESCHEDULE_DELAY", cfg.MaxRescheduleDelay); err != nil {
		return cfg, err
	}
	if cfg.RetentionMaxAge, err = durationFromEnv("RDF_NOTIFICATIONS_RETENTION_MAX_AGE", cfg.RetentionMaxAge); err != nil {
		return cfg, err
	}
	if cfg.RetentionInterval, err = durationFromEnv("RDF_NOTIFICATIONS_RETENTION_INTERVAL", cfg.RetentionInterval); err != nil {
		return cfg, err
	}
	if raw := os.Getenv("RDF_NOTIFICATIONS_MAX_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("RDF_NOTIFICATIONS_MAX_ATTEMPTS: %q is not a positive integer", raw)
		}
		cfg.MaxAttempts = n
	}
	return cfg, nil
}

func durationFromEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}
