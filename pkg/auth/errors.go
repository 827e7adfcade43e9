package auth

import "errors"

// ErrInvalidFrame indicates a record message failed a type, device-id, or
// session-id check before decryption was even attempted.
var ErrInvalidFrame = errors.New("auth: invalid frame")

// ErrAuthFailed indicates AEAD decryption of a record failed.
var ErrAuthFailed = errors.New("auth: authentication failed")
