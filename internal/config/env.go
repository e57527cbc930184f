package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays RESERVD_* environment variables onto cfg. Set but
// malformed values are errors rather than silent fallbacks.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("RESERVD_LISTEN"); ok {
		cfg.Listen = v
	}
	if v, ok := os.LookupEnv("RESERVD_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("RESERVD_REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := os.LookupEnv("RESERVD_REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	if err := envInt("RESERVD_REDIS_DB", &cfg.RedisDB); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("RESERVD_PLUGINS"); ok {
		cfg.Plugins = splitList(v)
	}
	if err := envInt("RESERVD_MINUTES_BEFORE_END_LEASE", &cfg.MinutesBeforeEndLease); err != nil {
		return err
	}
	if err := envInt("RESERVD_EVENT_MAX_RETRIES", &cfg.EventMaxRetries); err != nil {
		return err
	}
	if err := envInt("RESERVD_EVENT_INTERVAL_SECONDS", &cfg.EventIntervalSeconds); err != nil {
		return err
	}
	if err := envInt("RESERVD_WORKER_POOL_SIZE", &cfg.WorkerPoolSize); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("RESERVD_PLUGIN_CALL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: RESERVD_PLUGIN_CALL_TIMEOUT: %w", err)
		}
		cfg.PluginCallTimeout = d
	}
	if v, ok := os.LookupEnv("RESERVD_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", name, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
