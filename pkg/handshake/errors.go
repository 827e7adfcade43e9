package handshake

import "errors"

// ErrHandshakeFail indicates a nonce mismatch or AEAD failure during the
// four-message exchange.
var ErrHandshakeFail = errors.New("handshake: failed")

// ErrAdmissionDenied indicates the collector's AdmissionPolicy refused the
// connecting device before any cryptographic work began. This is an
// addition beyond the protocol's own error kinds: a pre-handshake gate
// evaluated before an Authenticator is even constructed.
var ErrAdmissionDenied = errors.New("handshake: admission denied")
