package peer

import "errors"

// ErrNotAvailable indicates a requested file or hash block is not in the
// share. The wire form is "$Error File Not Available".
var ErrNotAvailable = errors.New("peer: file not available")

// ErrInvalidRange indicates a byte range outside the requested file.
var ErrInvalidRange = errors.New("peer: invalid range")

// ErrUnsupportedType indicates an unknown transfer type token.
var ErrUnsupportedType = errors.New("peer: unsupported transfer type")

// Handshake rejection texts sent before closing. The wording is what other
// clients display verbatim to their users.
const (
	errUserNotOnHub   = "User is not on the hub"
	errTooManyConns   = "too many open connections with this user"
	errNoExtendedProt = "Protocol not supported"
)
