package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/example/vaultmesh/internal/platform/compliance"
	"github.com/example/vaultmesh/pkg/audit"
	"github.com/example/vaultmesh/pkg/auth"
	"github.com/example/vaultmesh/pkg/handshake"
	"github.com/example/vaultmesh/pkg/vault"
)

// runSession dials the collector, loads the on-disk device vault, runs the
// device-initiator handshake, then sends sensor readings until the
// connection fails, re-handshaking in place whenever a vault rotation
// fires.
func runSession(ctx context.Context, d sessionDeps) error {
	ctx, span := d.tracer.Start(ctx, "device.connection")
	defer span.End()
	span.SetAttributes(attribute.Int64("device_id", int64(d.deviceID)))

	conn, err := (&net.Dialer{Timeout: 5 * time.Second}).DialContext(ctx, "tcp", d.addr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial")
		return fmt.Errorf("device: dial collector: %w", err)
	}
	defer conn.Close()

	v, err := d.store.Load(ctx, d.deviceID, vault.RoleDevice, d.provider)
	if err != nil {
		return fmt.Errorf("device: load vault: %w", err)
	}

	a, err := auth.New(auth.Config{
		DeviceID: d.deviceID,
		Role:     auth.RoleDevice,
		Vault:    v,
		Store:    d.store,
		Provider: d.provider,
	})
	if err != nil {
		return fmt.Errorf("device: construct authenticator: %w", err)
	}

	tr := handshake.NewFramedTransport(conn, 0)

	if err := deviceHandshake(ctx, d, tr, a, "device.handshake"); err != nil {
		return err
	}
	trail := audit.NewTrail(d.deviceID, a.SessionID())
	_ = trail.Record("handshake_complete", nil)
	d.logger.Info("handshake established",
		zap.Uint32("session_id", a.SessionID()),
		zap.Binary("transcript_fingerprint", trail.Fingerprint()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.interval):
		}

		payload, err := d.sensor.ReadDeviceBytes(ctx)
		if err != nil {
			return fmt.Errorf("device: read sensor payload: %w", err)
		}

		msg, err := a.Encrypt(payload)
		if err != nil {
			return fmt.Errorf("device: encrypt record: %w", err)
		}
		if err := tr.WriteMessage(msg); err != nil {
			return fmt.Errorf("device: send record: %w", err)
		}
		d.recordsSent.Add(ctx, 1)
		d.rotation.MarkRecord()

		if freshness := compliance.VaultRotationFreshness(a.TimeLived, d.rotation.MaxMessages).Run(ctx); freshness.Status != compliance.StatusPass {
			d.logger.Warn("vault rotation freshness check",
				zap.String("status", string(freshness.Status)),
				zap.String("details", freshness.Details))
		}

		if d.rotation.ShouldRotate(a) {
			if err := a.Reset(ctx); err != nil {
				return fmt.Errorf("device: rotate vault: %w", err)
			}
			d.rotations.Add(ctx, 1)
			if err := deviceHandshake(ctx, d, tr, a, "device.rehandshake"); err != nil {
				return err
			}
			d.logger.Info("vault rotated, re-handshake complete", zap.Uint32("new_session_id", a.SessionID()))
		}
	}
}

func deviceHandshake(ctx context.Context, d sessionDeps, tr *handshake.FramedTransport, a *auth.Authenticator, spanName string) error {
	hsCtx, hsSpan := d.tracer.Start(ctx, spanName)
	err := handshake.RunDevice(hsCtx, tr, a)
	hsSpan.End()
	if err != nil {
		return fmt.Errorf("device: %s: %w", spanName, err)
	}
	return nil
}
