package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/vaultmesh/internal/platform/compliance"
	"github.com/example/vaultmesh/internal/platform/metrics"
	"github.com/example/vaultmesh/internal/platform/tracing"
	"github.com/example/vaultmesh/pkg/admission"
	"github.com/example/vaultmesh/pkg/audit"
	"github.com/example/vaultmesh/pkg/auth"
	"github.com/example/vaultmesh/pkg/collaborators"
	"github.com/example/vaultmesh/pkg/framing"
	"github.com/example/vaultmesh/pkg/handshake"
	"github.com/example/vaultmesh/pkg/registry"
	"github.com/example/vaultmesh/pkg/vault"
)

// CollectorConfig wires runtime parameters for the collector server.
type CollectorConfig struct {
	Address      string
	VaultDir     string
	OTLPEndpoint string
	MaxFrameSize uint32
	Logger       *zap.Logger
	Admission    handshake.AdmissionPolicy // nil defaults to admission.AllowAll
}

// CollectorServer accepts device connections and drives one handshake
// plus record loop per connection on its own goroutine.
type CollectorServer struct {
	cfg       CollectorConfig
	logger    *zap.Logger
	listener  net.Listener
	store     *vault.Store
	registry    *registry.Registry
	telemetry   *collaborators.MemoryTelemetryStore
	sensorCodec collaborators.SensorController
	admission   handshake.AdmissionPolicy
	rotation    *auth.RotationPolicy

	metricsProvider *metrics.Provider
	tracingProvider *tracing.Provider
	tracer          trace.Tracer
	handshakeCount  metric.Int64Counter
	failureCount    metric.Int64Counter
	recordCount     metric.Int64Counter
	rotationCount   metric.Int64Counter
}

// NewCollectorServer constructs the collector and its TCP listener.
func NewCollectorServer(cfg CollectorConfig) (*CollectorServer, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Address == "" {
		cfg.Address = ":9443"
	}
	if cfg.VaultDir == "" {
		cfg.VaultDir = "svVaults"
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = framing.DefaultMaxLength
	}
	if cfg.Admission == nil {
		cfg.Admission = admission.AllowAll{}
	}

	ctx := context.Background()
	metricsProvider, err := metrics.New(ctx, metrics.Config{
		ServiceName: "vaultmesh-collector",
		Environment: "dev",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("collector: init metrics: %w", err)
	}
	tracingProvider, err := tracing.New(ctx, tracing.Config{
		ServiceName: "vaultmesh-collector",
		Environment: "dev",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("collector: init tracing: %w", err)
	}

	meter := metrics.Meter("vaultmesh.collector")
	handshakeCount, err := meter.Int64Counter("vaultmesh_collector_handshakes_total")
	if err != nil {
		return nil, fmt.Errorf("collector: register handshake counter: %w", err)
	}
	failureCount, err := meter.Int64Counter("vaultmesh_collector_handshake_failures_total")
	if err != nil {
		return nil, fmt.Errorf("collector: register failure counter: %w", err)
	}
	recordCount, err := meter.Int64Counter("vaultmesh_collector_records_total")
	if err != nil {
		return nil, fmt.Errorf("collector: register record counter: %w", err)
	}
	rotationCount, err := meter.Int64Counter("vaultmesh_collector_rotations_total")
	if err != nil {
		return nil, fmt.Errorf("collector: register rotation counter: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("collector: listen %s: %w", cfg.Address, err)
	}

	return &CollectorServer{
		cfg:             cfg,
		logger:          cfg.Logger,
		listener:        listener,
		store:           vault.New(vault.Paths{CollectorVaultDir: cfg.VaultDir, DeviceVaultDir: cfg.VaultDir}),
		registry:        registry.New(),
		telemetry:       collaborators.NewMemoryTelemetryStore(),
		sensorCodec:     collaborators.NewRandomSensorController(0, 0),
		admission:       cfg.Admission,
		rotation:        auth.NewRotationPolicy(),
		metricsProvider: metricsProvider,
		tracingProvider: tracingProvider,
		tracer:          tracing.Tracer("vaultmesh.collector"),
		handshakeCount:  handshakeCount,
		failureCount:    failureCount,
		recordCount:     recordCount,
		rotationCount:   rotationCount,
	}, nil
}

// Start accepts connections until the listener is closed.
func (s *CollectorServer) Start() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("collector: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener; in-flight connections drain on their own.
func (s *CollectorServer) Stop(ctx context.Context) error {
	if err := s.listener.Close(); err != nil {
		return fmt.Errorf("collector: close listener: %w", err)
	}
	if s.metricsProvider != nil {
		_ = s.metricsProvider.Shutdown(ctx)
	}
	if s.tracingProvider != nil {
		_ = s.tracingProvider.Shutdown(ctx)
	}
	return nil
}

func (s *CollectorServer) handleConn(conn net.Conn) {
	defer conn.Close()

	ctx, span := s.tracer.Start(context.Background(), "collector.connection")
	defer span.End()

	tr := handshake.NewFramedTransport(conn, s.cfg.MaxFrameSize)

	m1, err := tr.ReadMessage()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read m1")
		return
	}

	deviceID := m1.DeviceID
	log := s.logger.With(zap.Uint32("device_id", deviceID), zap.Uint32("session_id", m1.SessionID))
	span.SetAttributes(attribute.Int64("device_id", int64(deviceID)))

	trail := audit.NewTrail(deviceID, m1.SessionID)
	_ = trail.Record("m1_received", map[string]int{"payload_len": len(m1.Payload)})

	allowed, err := s.admission.Allow(ctx, deviceID)
	if err != nil || !allowed {
		log.Warn("admission denied", zap.Error(fmt.Errorf("%w: device %d: %v", handshake.ErrAdmissionDenied, deviceID, err)))
		s.failureCount.Add(ctx, 1)
		return
	}

	if err := s.registry.Claim(deviceID); err != nil {
		log.Warn("duplicate session refused", zap.Error(err))
		s.failureCount.Add(ctx, 1)
		return
	}
	defer s.registry.Release(deviceID)

	v, err := s.store.Load(ctx, deviceID, vault.RoleCollector, nil)
	if err != nil {
		log.Error("load vault failed", zap.Error(err))
		s.failureCount.Add(ctx, 1)
		return
	}

	a, err := auth.New(auth.Config{
		DeviceID:  deviceID,
		Role:      auth.RoleCollector,
		SessionID: m1.SessionID,
		Vault:     v,
		Store:     s.store,
	})
	if err != nil {
		log.Error("construct authenticator failed", zap.Error(err))
		s.failureCount.Add(ctx, 1)
		return
	}

	hsCtx, hsSpan := s.tracer.Start(ctx, "collector.handshake")
	err = handshake.RunCollector(hsCtx, tr, a)
	hsSpan.End()
	if err != nil {
		log.Warn("handshake failed", zap.Error(err))
		s.failureCount.Add(ctx, 1)
		return
	}
	s.handshakeCount.Add(ctx, 1)
	_ = trail.Record("handshake_complete", nil)
	log.Info("handshake established", zap.Binary("transcript_fingerprint", trail.Fingerprint()))

	s.recordLoop(ctx, conn, tr, a, log)
}

func (s *CollectorServer) recordLoop(ctx context.Context, conn net.Conn, tr *handshake.FramedTransport, a *auth.Authenticator, log *zap.Logger) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		msg, err := tr.ReadMessage()
		if err != nil {
			log.Info("connection closed", zap.Error(err))
			return
		}

		plaintext, err := a.Decrypt(msg)
		if err != nil {
			log.Warn("record decrypt failed", zap.Error(err))
			return
		}
		s.recordCount.Add(ctx, 1)

		state, readings, err := s.sensorCodec.BytesToInformation(plaintext)
		if err != nil {
			log.Warn("telemetry decode failed", zap.Error(err))
			continue
		}
		if err := s.telemetry.Append(ctx, a.DeviceID(), a.SessionID(), state, readings, time.Now().UTC()); err != nil {
			log.Error("telemetry append failed", zap.Error(err))
		}

		s.rotation.MarkRecord()
		if freshness := compliance.VaultRotationFreshness(a.TimeLived, s.rotation.MaxMessages).Run(ctx); freshness.Status != compliance.StatusPass {
			log.Warn("vault rotation freshness check", zap.String("status", string(freshness.Status)), zap.String("details", freshness.Details))
		}

		if s.rotation.ShouldRotate(a) {
			if err := a.Reset(ctx); err != nil {
				log.Error("vault rotation failed", zap.Error(err))
				return
			}
			s.rotationCount.Add(ctx, 1)
			log.Info("vault rotated", zap.Uint32("new_session_id", a.SessionID()))
		}
	}
}
