package handshake

import (
	"io"

	"github.com/example/vaultmesh/pkg/framing"
)

// FramedTransport adapts any io.ReadWriter (typically a net.Conn) to the
// Transport interface using pkg/framing's wire format.
type FramedTransport struct {
	rw        io.ReadWriter
	maxLength uint32
}

// NewFramedTransport wraps rw. maxLength bounds accepted payload length;
// pass 0 for framing.DefaultMaxLength.
func NewFramedTransport(rw io.ReadWriter, maxLength uint32) *FramedTransport {
	return &FramedTransport{rw: rw, maxLength: maxLength}
}

// ReadMessage implements Transport.
func (t *FramedTransport) ReadMessage() (framing.Message, error) {
	return framing.Read(t.rw, t.maxLength)
}

// WriteMessage implements Transport.
func (t *FramedTransport) WriteMessage(msg framing.Message) error {
	return framing.Write(t.rw, msg)
}
