package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/broker"
	"chatrelay/config"
	"chatrelay/logging"
	"chatrelay/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := broker.NewManager(cfg.NatsURL, logger)
	mgr.Start(ctx)
	defer mgr.Close()

	w := worker.New(mgr, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Run(ctx, mgr, w); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
	<-done

	logger.Info().Msg("worker gracefully stopped")
}
