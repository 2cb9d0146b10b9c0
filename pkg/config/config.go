// Package config holds runtime configuration for the monitoring service.
// All values are loaded from the environment with sensible defaults so the
// service can start with nothing but database credentials.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration bundle handed to the rest of the system.
type Config struct {
	Monitor   *MonitorConfig
	Scheduler *SchedulerConfig
	Retention *RetentionConfig

	// DisplayLocation is the fixed time zone used for every stored and
	// displayed timestamp. Window queries and the stale-session janitor
	// compare times in this zone.
	DisplayLocation *time.Location

	// RelayBaseURL is the base URL of the stream relay that serves room
	// probes and push streams.
	RelayBaseURL string

	// HTTPPort is the port the operator API listens on.
	HTTPPort string

	// ShutdownGrace bounds how long shutdown waits for supervisors to exit.
	ShutdownGrace time.Duration
}

// Load builds a Config from the environment.
func Load() (*Config, error) {
	loc, err := loadLocation()
	if err != nil {
		return nil, err
	}

	monitor, err := loadMonitorConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Monitor:         monitor,
		Scheduler:       loadSchedulerConfig(),
		Retention:       loadRetentionConfig(),
		DisplayLocation: loc,
		RelayBaseURL:    getEnvOrDefault("RELAY_BASE_URL", "https://relay.local"),
		HTTPPort:        getEnvOrDefault("HTTP_PORT", "8080"),
		ShutdownGrace:   getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),
	}, nil
}

// loadLocation resolves DISPLAY_TIMEZONE. The value is either an IANA zone
// name or a fixed UTC offset in hours. Defaults to UTC+8, matching the
// platform the relay fronts.
func loadLocation() (*time.Location, error) {
	raw := os.Getenv("DISPLAY_TIMEZONE")
	if raw == "" {
		return time.FixedZone("UTC+8", 8*3600), nil
	}
	if hours, err := strconv.Atoi(raw); err == nil {
		return time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600), nil
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE %q: %w", raw, err)
	}
	return loc, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration either as a bare integer number of seconds
// (the form the original deployment templates use) or as a Go duration string.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}
