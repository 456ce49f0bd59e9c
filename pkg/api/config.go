package api

import "time"

// Config controls engine-wide budgets and defaults.
type Config struct {
	// MaxExecutionTime is the wall-clock budget of a run, measured from
	// the start (or the latest resume) of the run.
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`

	// MaxSteps is the maximum number of steps a run may record.
	MaxSteps int `yaml:"max_steps"`

	// RetryAttempts is the default number of handler attempts, including
	// the first one. A node may override it with the config key
	// "retryAttempts".
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelay is the base backoff; the delay before retry k is
	// RetryDelay * 2^k, counting retries from 0.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// EnablePersistence toggles Execution Store writes. It is not
	// defaulted by WithDefaults; a Config built field by field must set
	// it explicitly or start from DefaultConfig.
	EnablePersistence bool `yaml:"enable_persistence"`

	// DebugMode records handler inputs on steps and logs at debug level.
	DebugMode bool `yaml:"debug_mode"`

	// SweepInterval is how often the stuck-run sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxExecutionTime:  5 * time.Minute,
		MaxSteps:          1000,
		RetryAttempts:     3,
		RetryDelay:        time.Second,
		EnablePersistence: true,
		SweepInterval:     time.Minute,
	}
}

// WithDefaults fills zero fields from DefaultConfig. EnablePersistence and
// DebugMode are taken as-is.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxExecutionTime <= 0 {
		c.MaxExecutionTime = d.MaxExecutionTime
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}
