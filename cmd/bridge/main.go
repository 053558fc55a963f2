package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/internal/bridge"
	"github.com/omochice/chat-bridge/internal/config"
	"github.com/omochice/chat-bridge/internal/protoclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// The simulated client stands in for the external messaging platform.
	// Deployments targeting the real platform replace this dialer with an
	// adapter satisfying session.Client; nothing above the session boundary
	// changes.
	sim := protoclient.NewSimulated()
	sim.AuthDir = cfg.AuthDir
	sim.OwnerPhone = cfg.OwnerPhone

	b, err := bridge.New(cfg, sim.Dialer(), logger)
	if err != nil {
		logger.Fatal("failed to assemble bridge", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting chat bridge", zap.Int("port", cfg.Port))
	if err := b.Run(ctx); err != nil {
		logger.Fatal("bridge failed", zap.Error(err))
	}

	logger.Info("chat bridge stopped")
}

func newLogger(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if debug {
		zc = zap.NewDevelopmentConfig()
	}
	return zc.Build()
}
