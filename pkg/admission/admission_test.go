package admission

import (
	"context"
	"testing"

	"github.com/example/vaultmesh/internal/platform/policy"
)

func TestAllowListPermitsKnownDeviceDeniesUnknown(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, policy.Config{
		Query:   DefaultQuery,
		Modules: map[string]string{"admission.rego": DefaultModule},
		Data: map[string]any{
			"devices": map[string]any{"allowed": []any{1058.0}},
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	allowed, err := p.Allow(ctx, 1058)
	if err != nil {
		t.Fatalf("allow known device: %v", err)
	}
	if !allowed {
		t.Fatal("expected known device to be allowed")
	}

	allowed, err = p.Allow(ctx, 9999)
	if err != nil {
		t.Fatalf("allow unknown device: %v", err)
	}
	if allowed {
		t.Fatal("expected unknown device to be denied")
	}
}

func TestAllowAllAlwaysAllows(t *testing.T) {
	a := AllowAll{}
	allowed, err := a.Allow(context.Background(), 42)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed {
		t.Fatal("expected AllowAll to allow")
	}
}
