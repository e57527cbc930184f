// Package config loads the daemon configuration. Precedence is
// environment (RESERVD_*) over YAML file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	// Listen is the HTTP bind address for the RPC and metrics endpoints.
	Listen string `yaml:"listen"`
	// DBPath is the sqlite database file; ":memory:" keeps state in RAM.
	DBPath string `yaml:"dbPath"`
	// RedisAddr enables lease notifications over redis pub/sub when set.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	// Plugins names the resource plugins to load.
	Plugins []string `yaml:"plugins"`
	// PluginOpts carries per-plugin setup options, keyed by plugin name.
	PluginOpts map[string]map[string]string `yaml:"pluginOpts"`

	// MinutesBeforeEndLease derives before_end_lease events; 0 disables.
	MinutesBeforeEndLease int `yaml:"minutesBeforeEndLease"`
	// EventMaxRetries bounds event retries, 0..50.
	EventMaxRetries int `yaml:"eventMaxRetries"`
	// EventIntervalSeconds is the scheduler poll interval.
	EventIntervalSeconds int `yaml:"eventIntervalSeconds"`
	// WorkerPoolSize bounds concurrent event executions.
	WorkerPoolSize int `yaml:"workerPoolSize"`
	// PluginCallTimeout bounds each plugin call; 0 disables.
	PluginCallTimeout time.Duration `yaml:"pluginCallTimeout"`

	LogLevel string `yaml:"logLevel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:                ":8780",
		DBPath:                "reservd.db",
		Plugins:               []string{"dummy.vm.plugin"},
		MinutesBeforeEndLease: 60,
		EventMaxRetries:       1,
		EventIntervalSeconds:  10,
		WorkerPoolSize:        10,
		LogLevel:              "info",
	}
}

// Load resolves the configuration from defaults, an optional YAML file
// and the environment, then validates it. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: dbPath must not be empty")
	}
	if c.MinutesBeforeEndLease < 0 {
		return fmt.Errorf("config: minutesBeforeEndLease must not be negative")
	}
	if c.EventMaxRetries < 0 || c.EventMaxRetries > 50 {
		return fmt.Errorf("config: eventMaxRetries must be between 0 and 50, got %d", c.EventMaxRetries)
	}
	if c.EventIntervalSeconds <= 0 {
		return fmt.Errorf("config: eventIntervalSeconds must be positive, got %d", c.EventIntervalSeconds)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: workerPoolSize must be positive, got %d", c.WorkerPoolSize)
	}
	if c.PluginCallTimeout < 0 {
		return fmt.Errorf("config: pluginCallTimeout must not be negative")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logLevel %q", c.LogLevel)
	}
	return nil
}

// EventInterval returns the scheduler poll interval as a duration.
func (c Config) EventInterval() time.Duration {
	return time.Duration(c.EventIntervalSeconds) * time.Second
}
