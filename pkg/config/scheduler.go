package config

import "time"

// SchedulerConfig contains the intervals for the periodic background jobs.
type SchedulerConfig struct {
	// RestartFailedInterval is how often supervisors whose task has exited
	// are checked and restarted.
	RestartFailedInterval time.Duration

	// StatsSnapshotInterval is how often a RoomStats snapshot is appended
	// for each room currently in the monitoring state.
	StatsSnapshotInterval time.Duration

	// PurgeInterval is how often the retention purge runs.
	PurgeInterval time.Duration
}

func loadSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RestartFailedInterval: getEnvDuration("SCHEDULER_RESTART_FAILED_INTERVAL", 30*time.Second),
		StatsSnapshotInterval: getEnvDuration("SCHEDULER_STATS_SNAPSHOT_INTERVAL", 60*time.Second),
		PurgeInterval:         getEnvDuration("SCHEDULER_PURGE_INTERVAL", time.Hour),
	}
}
