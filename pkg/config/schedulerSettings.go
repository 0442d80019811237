package config

import "time"

// SchedulerSettings controls the background synchronization loop.
type SchedulerSettings struct {
	SyncInterval   time.Duration `mapstructure:"sync_interval" validate:"gt=0"`
	ErrorCooldown  time.Duration `mapstructure:"error_cooldown" validate:"gt=0"` // shorter wait after a failed pass
	WorkerPoolSize int           `mapstructure:"worker_pool_size" validate:"gt=0"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout" validate:"gt=0"`
	AutoStart      bool          `mapstructure:"auto_start"`
}
