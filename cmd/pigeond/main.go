package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/pigeon/internal/config"
	"github.com/danmuck/pigeon/internal/logging"
	"github.com/danmuck/pigeon/internal/messenger"
	"github.com/danmuck/pigeon/internal/observability"
	"github.com/danmuck/pigeon/internal/transport"
	"github.com/danmuck/pigeon/internal/transport/httpwire"
	"github.com/danmuck/pigeon/internal/transport/redisbus"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.ConfigureRuntime()

	path := flag.String("config", "cmd/pigeond/config.toml", "pigeond config path")
	check := flag.Bool("check", false, "load and validate the config, then exit")
	flag.Parse()

	cfg, err := resolveConfig(*path)
	if err != nil {
		log.Fatal().Err(err).Str("path", *path).Msg("pigeond config")
	}
	if *check {
		log.Info().Str("path", *path).Str("transport", cfg.Transport).Msg("pigeond config ok")
		return
	}
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := observability.InitLogger("pigeond", "")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "pigeond: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Msg("pigeond shutdown")
}

// resolveConfig falls back to defaults when the config file does not exist.
func resolveConfig(path string) (daemonConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config not found, using defaults")
		return defaultDaemonConfig(), nil
	}
	return loadDaemonConfig(path)
}

func run(ctx context.Context, cfg daemonConfig, logger zerolog.Logger) error {
	switch cfg.Transport {
	case config.TransportHTTP:
		return runHTTP(ctx, cfg, logger)
	case config.TransportRedis:
		return runRedis(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func startMessenger(tr transport.Transport, cfg daemonConfig, logger zerolog.Logger) (*messenger.Messenger, error) {
	m := messenger.New(tr, messenger.WithName(cfg.Name), messenger.WithLogger(logger))
	if err := m.Bootstrap(cfg.Prefix, cfg.CompletionSignal); err != nil {
		return nil, err
	}
	if err := installHandlers(m, cfg.TrustedDomain); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func runHTTP(ctx context.Context, cfg daemonConfig, logger zerolog.Logger) error {
	tr := httpwire.New(httpwire.Config{
		Name:        cfg.Name,
		PublicURL:   cfg.PublicURL,
		CorsOrigins: cfg.CorsOrigins,
		Logger:      &logger,
	})
	m, err := startMessenger(tr, cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	registerAdminRoutes(tr.Router(), m)
	return tr.Serve(ctx, cfg.Listen)
}

func runRedis(ctx context.Context, cfg daemonConfig, logger zerolog.Logger) error {
	client, err := redisbus.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	bus, err := redisbus.New(client, redisbus.Config{
		Namespace: cfg.Namespace,
		Name:      cfg.Name,
		Origin:    cfg.Origin,
		Logger:    &logger,
	})
	if err != nil {
		return err
	}
	if err := bus.Start(ctx); err != nil {
		return err
	}
	defer bus.Close()

	m, err := startMessenger(bus, cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if cfg.Listen == "" {
		<-ctx.Done()
		return nil
	}
	return serveAdmin(ctx, cfg.Listen, newAdminRouter(cfg.Name, logger, m), logger)
}
