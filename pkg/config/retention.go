package config

// RetentionConfig controls how long raw event history is kept.
type RetentionConfig struct {
	// DataRetentionDays is the age past which chat events, gift events,
	// stats snapshots and system events are purged. Zero keeps data forever
	// and disables the purge job entirely.
	DataRetentionDays int
}

func loadRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		DataRetentionDays: getEnvInt("DATA_RETENTION_DAYS", 90),
	}
}

// Unlimited reports whether purging is disabled.
func (c *RetentionConfig) Unlimited() bool {
	return c.DataRetentionDays == 0
}
