// Package collaborators defines the two external interfaces the protocol
// core talks to but does not own: reading sensor state on the device side,
// and recording device telemetry on the collector side. Both are out of
// scope for the protocol itself (spec.md's Non-goals); this package
// supplies only the Go interfaces and minimal in-memory implementations
// used by the demo cmd/device and cmd/collector binaries.
package collaborators

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// SensorController produces the application payload a device sends once
// authenticated, and knows how to decode one back into a reading.
// Grounded on original_source/controller.py's read_sensors, which returns
// a fixed number of integer-valued sensor readings per call.
type SensorController interface {
	ReadDeviceBytes(ctx context.Context) ([]byte, error)
	BytesToInformation(payload []byte) (state int, readings []float64, err error)
}

// TelemetryEntry is one observation logged by a collector after a
// successful record decrypt.
type TelemetryEntry struct {
	DeviceID  uint32
	SessionID uint32
	State     int
	Readings  []float64
	Observed  time.Time
}

// TelemetryStore is the collector-wide sink for decrypted device records.
// Grounded on original_source/handler.py's __database/__add_entry_db/
// show_db, which the spec's §5 "Shared state" section describes as a
// mutex-guarded, append-only store with a read-only filtered iterator.
type TelemetryStore interface {
	Append(ctx context.Context, deviceID, sessionID uint32, state int, readings []float64, at time.Time) error
	Iterate(ctx context.Context, deviceID, sessionID *uint32) ([]TelemetryEntry, error)
}

// RandomSensorController emits a state byte followed by Width-1
// random readings in [0, 100], mirroring controller.py's read_sensors
// (eight randint(0, 100) readings) without any real hardware.
type RandomSensorController struct {
	Width int
	rnd   *rand.Rand
	mu    sync.Mutex
}

// NewRandomSensorController returns a controller producing width-byte
// payloads (1 state byte + width-1 reading bytes). width defaults to 9
// (state + 8 readings, matching controller.py's num_sensors) when <= 1.
func NewRandomSensorController(width int, seed int64) *RandomSensorController {
	if width <= 1 {
		width = 9
	}
	return &RandomSensorController{Width: width, rnd: rand.New(rand.NewSource(seed))}
}

// ReadDeviceBytes implements SensorController.
func (c *RandomSensorController) ReadDeviceBytes(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.Width)
	out[0] = byte(c.rnd.Intn(2))
	for i := 1; i < c.Width; i++ {
		out[i] = byte(c.rnd.Intn(101))
	}
	return out, nil
}

// BytesToInformation implements SensorController, decoding the first byte
// as state and every remaining byte as one integer-valued reading.
func (c *RandomSensorController) BytesToInformation(payload []byte) (int, []float64, error) {
	if len(payload) == 0 {
		return 0, nil, fmt.Errorf("collaborators: empty payload")
	}
	readings := make([]float64, len(payload)-1)
	for i, b := range payload[1:] {
		readings[i] = float64(b)
	}
	return int(payload[0]), readings, nil
}

// MemoryTelemetryStore is an append-only, mutex-guarded, in-memory
// TelemetryStore suitable for demos and tests.
type MemoryTelemetryStore struct {
	mu      sync.Mutex
	entries []TelemetryEntry
}

// NewMemoryTelemetryStore returns an empty store.
func NewMemoryTelemetryStore() *MemoryTelemetryStore {
	return &MemoryTelemetryStore{}
}

// Append implements TelemetryStore.
func (s *MemoryTelemetryStore) Append(ctx context.Context, deviceID, sessionID uint32, state int, readings []float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, TelemetryEntry{
		DeviceID:  deviceID,
		SessionID: sessionID,
		State:     state,
		Readings:  append([]float64(nil), readings...),
		Observed:  at,
	})
	return nil
}

// Iterate implements TelemetryStore, returning entries matching deviceID
// and sessionID when non-nil.
func (s *MemoryTelemetryStore) Iterate(ctx context.Context, deviceID, sessionID *uint32) ([]TelemetryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TelemetryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if deviceID != nil && e.DeviceID != *deviceID {
			continue
		}
		if sessionID != nil && e.SessionID != *sessionID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
