package handshake

import "errors"

var (
	// ErrMalformedPayload indicates the text is not a valid encoded
	// handshake: bad prefix, bad base64, bad CBOR or missing fields.
	ErrMalformedPayload = errors.New("malformed handshake payload")

	// ErrWrongHandshakeType indicates the payload decoded fine but its
	// tag does not match the kind the caller expected.
	ErrWrongHandshakeType = errors.New("wrong handshake type")
)
