package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/vaultmesh/internal/platform/compliance"
	"github.com/example/vaultmesh/internal/platform/logging"
	"github.com/example/vaultmesh/internal/platform/metrics"
	"github.com/example/vaultmesh/internal/platform/tracing"
	"github.com/example/vaultmesh/pkg/auth"
	"github.com/example/vaultmesh/pkg/collaborators"
	"github.com/example/vaultmesh/pkg/vault"
)

func main() {
	var (
		collectorAddr = flag.String("collector", "localhost:9443", "collector TCP address")
		deviceID      = flag.Uint("device-id", 1001, "this device's identifier")
		vaultDir      = flag.String("vault-dir", "dvVaults", "directory holding this device's encrypted vault file")
		keyDir        = flag.String("key-dir", "dvKeys", "directory holding this device's vault-encryption key file")
		passphrase    = flag.String("key-passphrase", "", "passphrase protecting the vault-encryption key file (empty reads it raw)")
		otlpEndpoint  = flag.String("otlp-endpoint", "", "OTLP gRPC endpoint for metrics/traces (empty disables export)")
		payloadWidth  = flag.Int("payload-width", 16, "width in bytes of each simulated sensor payload (1 state byte plus one byte per reading)")
		interval      = flag.Duration("interval", time.Second, "delay between record sends")
	)
	flag.Parse()

	logger, cleanup, err := logging.Global(logging.Config{
		ServiceName: "vaultmesh-device",
		Environment: "dev",
		Level:       "info",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cleanup(ctx)
	}()
	logger = logger.With(zap.Uint("device_id", *deviceID))

	keyFile := filepath.Join(*keyDir, fmt.Sprintf("%d", *deviceID))
	if summary := compliance.NewChecker(compliance.VaultKeyFilePermissions(keyFile)).Evaluate(context.Background()); !summary.Healthy() {
		for _, failed := range summary.Failed {
			logger.Warn("compliance check failed", zap.String("check", failed.Name), zap.String("details", failed.Details), zap.Error(failed.Error))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsProvider, err := metrics.New(ctx, metrics.Config{
		ServiceName: "vaultmesh-device",
		Environment: "dev",
		Endpoint:    *otlpEndpoint,
		Insecure:    true,
	})
	if err != nil {
		logger.Fatal("init metrics", zap.Error(err))
	}
	defer func() { _ = metricsProvider.Shutdown(context.Background()) }()

	tracingProvider, err := tracing.New(ctx, tracing.Config{
		ServiceName: "vaultmesh-device",
		Environment: "dev",
		Endpoint:    *otlpEndpoint,
		Insecure:    true,
	})
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}
	defer func() { _ = tracingProvider.Shutdown(context.Background()) }()

	meter := metrics.Meter("vaultmesh.device")
	recordsSent, err := meter.Int64Counter("vaultmesh_device_records_sent_total")
	if err != nil {
		logger.Fatal("register counter", zap.Error(err))
	}
	rotations, err := meter.Int64Counter("vaultmesh_device_rotations_total")
	if err != nil {
		logger.Fatal("register counter", zap.Error(err))
	}
	tracer := tracing.Tracer("vaultmesh.device")

	deps := sessionDeps{
		addr:        *collectorAddr,
		deviceID:    uint32(*deviceID),
		store:       vault.New(vault.Paths{DeviceVaultDir: *vaultDir}),
		provider:    &vault.FileKeyProvider{Dir: *keyDir, Passphrase: *passphrase},
		sensor:      collaborators.NewRandomSensorController(*payloadWidth, int64(*deviceID)),
		interval:    *interval,
		logger:      logger,
		tracer:      tracer,
		recordsSent: recordsSent,
		rotations:   rotations,
		rotation:    auth.NewRotationPolicy(),
	}

	for ctx.Err() == nil {
		if err := runSession(ctx, deps); err != nil {
			logger.Error("session ended", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

type sessionDeps struct {
	addr        string
	deviceID    uint32
	store       *vault.Store
	provider    vault.KeyProvider
	sensor      collaborators.SensorController
	interval    time.Duration
	logger      *zap.Logger
	tracer      trace.Tracer
	recordsSent metric.Int64Counter
	rotations   metric.Int64Counter
	rotation    *auth.RotationPolicy
}
