package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rule_trader/internal/modules/broker"
	"rule_trader/internal/modules/config"
	"rule_trader/internal/modules/engine"
	"rule_trader/internal/modules/health"
	"rule_trader/internal/modules/livecache"
	"rule_trader/internal/modules/notifier"
	"rule_trader/internal/modules/postback"
	"rule_trader/internal/modules/postgres"
	"rule_trader/pkg/logger"
	"rule_trader/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	tracing.SetServiceName(cfg.Service.Name)
	if !cfg.Tracing.Enabled {
		return nil
	}
	_, closer, err := tracing.InitTracer(tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port})
	if err != nil {
		return err
	}
	lc.Append(fx.StopHook(closer))
	return nil
}

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()
	logger.Init(zl)

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		fx.Invoke(func(cfg *config.Config) { logger.SetServiceName(cfg.Service.Name) }),
		fx.Invoke(initTracing),
		postgres.Module(),
		livecache.Module(),
		broker.Module(),
		notifier.Module(),
		health.Module(),
		engine.Module(),
		postback.Module(),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		logger.Fatal("start: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("stop: %v", err)
	}
}
