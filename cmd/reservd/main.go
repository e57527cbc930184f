// Command reservd runs the reservation manager daemon: the HTTP RPC
// surface, the event scheduler and the plugin monitors.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/reservd/reservd/internal/api"
	"github.com/reservd/reservd/internal/config"
	"github.com/reservd/reservd/internal/log"
	"github.com/reservd/reservd/internal/manager"
	"github.com/reservd/reservd/internal/notify"
	"github.com/reservd/reservd/internal/plugin"
	"github.com/reservd/reservd/internal/store"
	"github.com/reservd/reservd/internal/trust"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("reservd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The logger is configured exactly once, so resolve the config first;
	// a load failure falls back to the built-in logger defaults.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := log.WithComponent("daemon")
		fallback.Fatal().Err(err).Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "reservd"})
	logger := log.WithComponent("daemon")

	st, err := store.NewSqliteStore(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("failed to open database")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()

	registry, err := plugin.NewRegistry(cfg.Plugins, plugin.Builtins(), cfg.PluginOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load plugins")
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.RedisAddr != "" {
		rn, err := notify.NewRedisNotifier(notify.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("redis_addr", cfg.RedisAddr).
				Msg("failed to connect notification bus")
		}
		defer func() {
			if err := rn.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close notification bus")
			}
		}()
		notifier = rn
	}

	m := manager.New(st, registry, notifier, trust.NewStaticBroker(), manager.RealClock{}, manager.Options{
		MinutesBeforeEndLease: cfg.MinutesBeforeEndLease,
		EventMaxRetries:       cfg.EventMaxRetries,
		PluginTimeout:         cfg.PluginCallTimeout,
	})

	scheduler := manager.NewScheduler(m, cfg.EventInterval(), cfg.WorkerPoolSize)
	server := api.NewServer(cfg.Listen, m)

	registry.StartMonitors(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	logger.Info().
		Str("version", version).
		Str("listen", cfg.Listen).
		Str("db_path", cfg.DBPath).
		Strs("plugins", cfg.Plugins).
		Msg("reservd started")

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("reservd stopped")
}
