package framing

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	msg := Message{
		DeviceID:  42,
		SessionID: 7,
		Type:      TypeRecord,
		Payload:   []byte("hello telemetry"),
	}

	var buf bytes.Buffer
	if err := Write(&buf, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Read(&buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.DeviceID != msg.DeviceID || got.SessionID != msg.SessionID || got.Type != msg.Type {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if !bytes.Equal(got.Payload, msg.Payload) {
		t.Fatalf("payload mismatch: got %q", got.Payload)
	}
}

func TestReadEmptyPayload(t *testing.T) {
	msg := Message{DeviceID: 1, SessionID: 0, Type: TypeHandshake}
	var buf bytes.Buffer
	if err := Write(&buf, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Read(&buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %q", got.Payload)
	}
}

func TestReadShortHeaderIsTransportClosed(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x01, 0x02, 0x03})
	_, err := Read(buf, 0)
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestReadShortPayloadIsTransportClosed(t *testing.T) {
	msg := Message{DeviceID: 1, SessionID: 2, Type: TypeRecord, Payload: []byte("0123456789")}
	var buf bytes.Buffer
	if err := Write(&buf, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]
	_, err := Read(bytes.NewReader(truncated), 0)
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestReadRejectsOversizedPayload(t *testing.T) {
	msg := Message{DeviceID: 1, SessionID: 2, Type: TypeRecord, Payload: make([]byte, 100)}
	var buf bytes.Buffer
	if err := Write(&buf, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Read(&buf, 50)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

type onceWriter struct{ failAfter int }

func (w *onceWriter) Write(p []byte) (int, error) {
	if w.failAfter <= 0 {
		return 0, io.ErrClosedPipe
	}
	w.failAfter -= len(p)
	return len(p), nil
}

func TestWriteSurfacesTransportClosed(t *testing.T) {
	msg := Message{DeviceID: 1, SessionID: 2, Type: TypeRecord, Payload: []byte("x")}
	err := Write(&onceWriter{failAfter: 0}, msg)
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}
