package operations

import (
	"fmt"
	"time"
)

// Config represents the run execution configuration
type Config struct {
	// Limit for a whole run; zero disables it
	RunTimeout time.Duration `json:"run_timeout"`

	// Step-specific timeouts
	StepTimeouts map[string]time.Duration `json:"step_timeouts"`

	// How long finished snapshots are kept by the broadcaster
	SnapshotRetention time.Duration `json:"snapshot_retention"`
}

// NewConfig returns the default run configuration
func NewConfig() *Config {
	return &Config{
		StepTimeouts: map[string]time.Duration{
			StepIDFetch:  DefaultFetchTimeout,
			StepIDRender: DefaultRenderTimeout,
		},
		SnapshotRetention: time.Hour,
	}
}

// GetStepTimeout returns the timeout for a specific Step
func (c *Config) GetStepTimeout(stepID string) time.Duration {
	if timeout, ok := c.StepTimeouts[stepID]; ok && timeout > 0 {
		return timeout
	}
	return DefaultStepTimeout
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.RunTimeout < 0 {
		return fmt.Errorf("run timeout cannot be negative")
	}
	for id, timeout := range c.StepTimeouts {
		if timeout < 0 {
			return fmt.Errorf("timeout of step %s cannot be negative", id)
		}
	}
	return nil
}
