package scheduler

import "time"

type Config struct {
	// RunInterval is how often the job loop fires.
	RunInterval time.Duration
	// JobTimeout bounds one job execution.
	JobTimeout time.Duration
	// EnabledJobs restricts the loop to the named jobs. Empty means all.
	EnabledJobs []string
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = time.Hour
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	return c
}
