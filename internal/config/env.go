package config

import (
	"fmt"
	"strconv"
	"time"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

const envPrefix = "CHATFLOW_"

type envVar struct {
	key string
	set func(c *Config, v string) error
}

var envVars = []envVar{
	{"ENGINE_MAX_EXECUTION_TIME", durationVar(func(c *Config) *time.Duration { return &c.Engine.MaxExecutionTime })},
	{"ENGINE_MAX_STEPS", intVar(func(c *Config) *int { return &c.Engine.MaxSteps })},
	{"ENGINE_RETRY_ATTEMPTS", intVar(func(c *Config) *int { return &c.Engine.RetryAttempts })},
	{"ENGINE_RETRY_DELAY", durationVar(func(c *Config) *time.Duration { return &c.Engine.RetryDelay })},
	{"ENGINE_ENABLE_PERSISTENCE", boolVar(func(c *Config) *bool { return &c.Engine.EnablePersistence })},
	{"ENGINE_DEBUG_MODE", boolVar(func(c *Config) *bool { return &c.Engine.DebugMode })},
	{"ENGINE_SWEEP_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Engine.SweepInterval })},

	{"STORE_DRIVER", stringVar(func(c *Config) *string { return &c.Store.Driver })},
	{"STORE_DSN", stringVar(func(c *Config) *string { return &c.Store.DSN })},

	{"REDIS_ADDR", stringVar(func(c *Config) *string { return &c.Redis.Addr })},
	{"REDIS_PASSWORD", stringVar(func(c *Config) *string { return &c.Redis.Password })},
	{"REDIS_DB", intVar(func(c *Config) *int { return &c.Redis.DB })},
	{"REDIS_EVENTS_CHANNEL_PREFIX", stringVar(func(c *Config) *string { return &c.Redis.EventsChannelPrefix })},

	{"GATEWAY_BASE_URL", stringVar(func(c *Config) *string { return &c.Gateway.BaseURL })},
	{"GATEWAY_TOKEN", stringVar(func(c *Config) *string { return &c.Gateway.Token })},
	{"GATEWAY_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Gateway.Timeout })},

	{"HTTP_ADDR", stringVar(func(c *Config) *string { return &c.HTTP.Addr })},
	{"HTTP_ASYNC_RESUME", boolVar(func(c *Config) *bool { return &c.HTTP.AsyncResume })},

	{"WORKER_CONCURRENCY", intVar(func(c *Config) *int { return &c.Worker.Concurrency })},
	{"WORKER_QUEUE", stringVar(func(c *Config) *string { return &c.Worker.Queue })},
	{"WORKER_DSN", stringVar(func(c *Config) *string { return &c.Worker.DSN })},

	{"FLOWS_DIR", stringVar(func(c *Config) *string { return &c.Flows.Dir })},

	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
}

// ApplyEnv overrides fields from CHATFLOW_* variables found by lookup.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, ev := range envVars {
		v, ok := lookup(envPrefix + ev.key)
		if !ok {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, ev.key, err)
		}
	}
	return nil
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
