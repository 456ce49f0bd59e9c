// Package config loads the chatflowd configuration from YAML, an optional
// .env file and CHATFLOW_* environment variables, in that order of
// precedence from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/chatflow/pkg/api"
)

// Config is the full daemon configuration.
type Config struct {
	Engine  api.Config    `yaml:"engine"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Gateway GatewayConfig `yaml:"gateway"`
	HTTP    HTTPConfig    `yaml:"http"`
	Worker  WorkerConfig  `yaml:"worker"`
	Flows   FlowsConfig   `yaml:"flows"`
	Log     LogConfig     `yaml:"log"`
}

// StoreConfig selects the execution store.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, redis or mongo.
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite, a connection string for postgres and
	// a URI for mongo. Redis uses the redis section.
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// EventsChannelPrefix enables progress pub/sub when set.
	EventsChannelPrefix string `yaml:"events_channel_prefix"`
}

// GatewayConfig configures the outbound chat channel. An empty BaseURL
// disables messaging nodes.
type GatewayConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// AsyncResume routes resume and stop requests through the worker
	// queue.
	AsyncResume bool `yaml:"async_resume"`
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	// Queue is one of memory, sqlite, redis or mongo.
	Queue string `yaml:"queue"`
	// DSN locates a sqlite or mongo queue. Empty means the store DSN.
	DSN string `yaml:"dsn"`
}

type FlowsConfig struct {
	// Dir holds *.json, *.yaml and *.yml graphs registered at startup.
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Engine:  api.DefaultConfig(),
		Store:   StoreConfig{Driver: "memory"},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Gateway: GatewayConfig{Timeout: 10 * time.Second},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Worker:  WorkerConfig{Concurrency: 2, Queue: "memory"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if not empty) over the defaults, applies CHATFLOW_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if cfg.Engine.DebugMode {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from files into the process environment
// without overriding variables that are already set. Missing files are
// skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// QueueDSN returns the DSN of the worker queue.
func (c Config) QueueDSN() string {
	if c.Worker.DSN != "" {
		return c.Worker.DSN
	}
	return c.Store.DSN
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "redis":
	case "sqlite", "postgres", "mongo":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Worker.Queue {
	case "memory", "redis":
	case "sqlite", "mongo":
		if c.QueueDSN() == "" {
			return fmt.Errorf("worker.dsn is required for queue %q", c.Worker.Queue)
		}
	default:
		return fmt.Errorf("unknown worker.queue %q", c.Worker.Queue)
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("worker.concurrency must not be negative")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
