package collaborators

import (
	"context"
	"testing"
	"time"
)

func TestRandomSensorControllerRoundTrip(t *testing.T) {
	c := NewRandomSensorController(9, 42)
	payload, err := c.ReadDeviceBytes(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(payload) != 9 {
		t.Fatalf("expected 9-byte payload, got %d", len(payload))
	}

	state, readings, err := c.BytesToInformation(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state != int(payload[0]) {
		t.Fatalf("state mismatch: got %d want %d", state, payload[0])
	}
	if len(readings) != 8 {
		t.Fatalf("expected 8 readings, got %d", len(readings))
	}
	for i, r := range readings {
		if r != float64(payload[i+1]) {
			t.Fatalf("reading %d mismatch: got %v want %v", i, r, payload[i+1])
		}
	}
}

func TestMemoryTelemetryStoreFiltersByDeviceAndSession(t *testing.T) {
	store := NewMemoryTelemetryStore()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	if err := store.Append(ctx, 1, 0, 0, []float64{1, 2}, now); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, 2, 0, 0, []float64{3, 4}, now); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, 1, 1, 1, []float64{5, 6}, now); err != nil {
		t.Fatalf("append: %v", err)
	}

	dev1 := uint32(1)
	got, err := store.Iterate(ctx, &dev1, nil)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for device 1, got %d", len(got))
	}

	sess1 := uint32(1)
	got, err = store.Iterate(ctx, &dev1, &sess1)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(got) != 1 || got[0].State != 1 {
		t.Fatalf("unexpected filtered entries: %+v", got)
	}
}
