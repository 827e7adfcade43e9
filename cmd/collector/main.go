package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/vaultmesh/internal/platform/compliance"
	"github.com/example/vaultmesh/internal/platform/logging"
)

func main() {
	var (
		addr         = flag.String("addr", ":9443", "TCP listen address")
		vaultDir     = flag.String("vault-dir", "svVaults", "directory holding collector-side vault files")
		otlpEndpoint = flag.String("otlp-endpoint", "", "OTLP gRPC endpoint for metrics/traces (empty disables export)")
		maxFrame     = flag.Uint("max-frame-bytes", 64*1024, "maximum accepted record payload length")
	)
	flag.Parse()

	logger, cleanup, err := logging.Global(logging.Config{
		ServiceName: "vaultmesh-collector",
		Environment: "dev",
		Level:       "info",
	})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cleanup(ctx)
	}()

	if summary := compliance.NewChecker(compliance.VaultKeyFilePermissions(*vaultDir)).Evaluate(context.Background()); !summary.Healthy() {
		for _, failed := range summary.Failed {
			logger.Warn("compliance check failed", zap.String("check", failed.Name), zap.String("details", failed.Details), zap.Error(failed.Error))
		}
	}

	srv, err := NewCollectorServer(CollectorConfig{
		Address:      *addr,
		VaultDir:     *vaultDir,
		OTLPEndpoint: *otlpEndpoint,
		MaxFrameSize: uint32(*maxFrame),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("init collector", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("collector listening", zap.String("addr", *addr))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("collector stopped")
}
