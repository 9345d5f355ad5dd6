package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/quietmind/anonid/handler"
	"github.com/quietmind/anonid/pkg/config"
	"github.com/quietmind/anonid/pkg/httpserver"
	"github.com/quietmind/anonid/pkg/identity"
	"github.com/quietmind/anonid/pkg/logger"
	"github.com/quietmind/anonid/pkg/maintenance"
)

type appConfig struct {
	LogLevel  slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat logger.Format `env:"LOG_FORMAT" envDefault:"json"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		appCfg   appConfig
		idCfg    identity.Config
		maintCfg maintenance.Config
		httpCfg  httpserver.Config
	)
	for _, err := range []error{
		config.Load(&appCfg),
		config.Load(&idCfg),
		config.Load(&maintCfg),
		config.Load(&httpCfg),
	} {
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	log := logger.New(
		logger.WithLevel(appCfg.LogLevel),
		logger.WithFormat(appCfg.LogFormat),
		logger.WithAttrs(slog.String("app", "anonid")),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := identity.New(
		identity.WithConfig(idCfg),
		identity.WithLogger(log.With(slog.String("component", "identity"))),
	)
	defer svc.Close()

	sched := maintenance.NewScheduler(log.With(slog.String("component", "maintenance")))
	if err := maintenance.RegisterSweeps(sched, svc, maintCfg); err != nil {
		return fmt.Errorf("register sweeps: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := httpserver.New(httpCfg, log.With(slog.String("component", "http")))
	return srv.Run(ctx, handler.New(svc, log.With(slog.String("component", "handler"))))
}
