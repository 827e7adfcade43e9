// Package admission implements the collector's pre-handshake gate: a
// Rego-evaluated allow/deny decision per connecting device_id, checked
// before an Authenticator is even constructed. This is an addition beyond
// spec.md's own components, layered on top of the OPA-based policy engine.
package admission

import (
	"context"
	"fmt"

	"github.com/example/vaultmesh/internal/platform/policy"
)

// DefaultModule is the reference admission policy: allow any device_id
// present in data.devices.allowed, deny everything else. Deployments
// override this by supplying their own Config.Modules/Data.
const DefaultModule = `
package vaultmesh.admission

default allow = false

allow {
	input.device_id == data.devices.allowed[_]
}
`

// DefaultQuery selects the allow decision from DefaultModule.
const DefaultQuery = "data.vaultmesh.admission.allow"

// Policy evaluates connection attempts against a compiled Rego policy.
type Policy struct {
	engine *policy.Engine
}

// New compiles cfg into a Policy. Callers wanting the reference allow-list
// behavior should pass Modules: {"admission.rego": DefaultModule} and
// Query: DefaultQuery, with Data: {"devices": {"allowed": [...]}}
func New(ctx context.Context, cfg policy.Config) (*Policy, error) {
	engine, err := policy.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("admission: compile policy: %w", err)
	}
	return &Policy{engine: engine}, nil
}

// Allow implements handshake.AdmissionPolicy.
func (p *Policy) Allow(ctx context.Context, deviceID uint32) (bool, error) {
	decision, err := p.engine.Evaluate(ctx, map[string]any{"device_id": deviceID})
	if err != nil {
		return false, fmt.Errorf("admission: evaluate: %w", err)
	}
	return decision.Allow, nil
}

// AllowAll is a trivial AdmissionPolicy for demos and tests that never
// denies a connection.
type AllowAll struct{}

// Allow implements handshake.AdmissionPolicy.
func (AllowAll) Allow(ctx context.Context, deviceID uint32) (bool, error) {
	return true, nil
}
