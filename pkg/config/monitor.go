package config

import (
	"fmt"
	"time"
)

// MonitorConfig controls per-room supervisor behavior: reconnect policy,
// offline polling, and the ingestion-side dedup cache.
type MonitorConfig struct {
	// MaxRetries caps reconnect attempts per outage run. Once hit, a room
	// with auto-reconnect enabled falls back to waiting/polling; otherwise
	// the supervisor terminates.
	MaxRetries int

	// ReconnectDelay is the pause between a dropped stream and the next probe.
	ReconnectDelay time.Duration

	// PollInterval is the base pause between offline probes.
	PollInterval time.Duration

	// PollJitter is the random spread applied to PollInterval. Zero disables
	// jitter. Actual interval: PollInterval ± PollJitter, floored at 1s.
	PollJitter time.Duration

	// MaxPollAttempts is how many consecutive negative probes the supervisor
	// tolerates before giving up on an offline room.
	MaxPollAttempts int

	// TraceCacheCapacity bounds the per-stream set of recently seen gift
	// trace ids. On overflow the set is trimmed to TraceCacheTrimTarget.
	TraceCacheCapacity   int
	TraceCacheTrimTarget int

	// StaleSessionThreshold is how old a still-open session must be before
	// the boot-time janitor closes it.
	StaleSessionThreshold time.Duration
}

func loadMonitorConfig() (*MonitorConfig, error) {
	cfg := &MonitorConfig{
		MaxRetries:            getEnvInt("MONITOR_MAX_RETRIES", 5),
		ReconnectDelay:        getEnvDuration("MONITOR_RECONNECT_DELAY", 30*time.Second),
		PollInterval:          getEnvDuration("MONITOR_POLL_INTERVAL", 60*time.Second),
		PollJitter:            getEnvDuration("MONITOR_POLL_JITTER", 0),
		MaxPollAttempts:       getEnvInt("MONITOR_MAX_POLL_ATTEMPTS", 10),
		TraceCacheCapacity:    getEnvInt("TRACE_CACHE_CAPACITY", 1000),
		StaleSessionThreshold: time.Duration(getEnvInt("STALE_SESSION_HOURS", 24)) * time.Hour,
	}
	cfg.TraceCacheTrimTarget = cfg.TraceCacheCapacity / 2

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MONITOR_MAX_RETRIES must not be negative")
	}
	if cfg.MaxPollAttempts < 1 {
		return nil, fmt.Errorf("MONITOR_MAX_POLL_ATTEMPTS must be positive")
	}
	if cfg.TraceCacheCapacity < 2 {
		return nil, fmt.Errorf("TRACE_CACHE_CAPACITY must be at least 2")
	}
	return cfg, nil
}
