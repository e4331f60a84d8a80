package reconciler

import (
	"fmt"
	"time"
)

// Config holds the options of the reconciliation service
type Config struct {
	// Concurrency bounds the goroutines of a batch suggestion run
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`

	// BatchLimit caps how many transactions one run picks up; 0 means all
	BatchLimit int `json:"batch_limit" mapstructure:"batch_limit"`

	// ProgressInterval is how often a run logs its progress
	ProgressInterval time.Duration `json:"progress_interval" mapstructure:"progress_interval"`
}

// DefaultConfig returns the default service configuration
func DefaultConfig() *Config {
	return &Config{
		Concurrency:      4,
		BatchLimit:       0,
		ProgressInterval: 5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.BatchLimit < 0 {
		return fmt.Errorf("batch limit cannot be negative, got %d", c.BatchLimit)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got %s", c.ProgressInterval)
	}
	return nil
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
