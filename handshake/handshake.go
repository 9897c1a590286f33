// Package handshake defines the offer/answer descriptors exchanged to set up
// a direct link and their compact text encoding. The encoded form is meant
// for out-of-band transfer: pasted text or a QR code, never a wire protocol.
package handshake

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	cbor "github.com/fxamacker/cbor/v2"
)

// Kind tags a handshake as an offer or an answer.
type Kind uint8

const (
	KindOffer Kind = iota + 1
	KindAnswer
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Handshake is a single offer or answer descriptor. Version is set on
// offers only.
type Handshake struct {
	Kind      Kind   `cbor:"1,keyasint"`
	SDP       string `cbor:"2,keyasint"`
	Timestamp int64  `cbor:"3,keyasint"`
	PeerID    string `cbor:"4,keyasint"`
	Version   string `cbor:"5,keyasint,omitempty"`
}

// NewOffer builds an offer descriptor stamped with the current time.
func NewOffer(sdp, peerID, version string) Handshake {
	return Handshake{
		Kind:      KindOffer,
		SDP:       sdp,
		Timestamp: time.Now().UnixMilli(),
		PeerID:    peerID,
		Version:   version,
	}
}

// NewAnswer builds an answer descriptor stamped with the current time.
func NewAnswer(sdp, peerID string) Handshake {
	return Handshake{
		Kind:      KindAnswer,
		SDP:       sdp,
		Timestamp: time.Now().UnixMilli(),
		PeerID:    peerID,
	}
}

// prefix identifies the encoding and its version. Decode rejects anything
// that does not start with it before touching base64 or CBOR.
const prefix = "MLK1."

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Encode serializes h to its compact text form. Deterministic: equal
// handshakes encode to equal strings.
func Encode(h Handshake) (string, error) {
	if err := validate(h); err != nil {
		return "", err
	}
	raw, err := encMode.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode handshake: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses the compact text form. Any failure to parse, at any layer,
// is reported as ErrMalformedPayload so callers can treat garbage input as a
// single recoverable condition.
func Decode(text string) (Handshake, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(text), prefix)
	if !ok {
		return Handshake{}, fmt.Errorf("%w: missing %q prefix", ErrMalformedPayload, prefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var h Handshake
	if err := decMode.Unmarshal(raw, &h); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate(h); err != nil {
		return Handshake{}, err
	}
	return h, nil
}

// DecodeOffer decodes text and requires it to be an offer.
func DecodeOffer(text string) (Handshake, error) {
	return decodeKind(text, KindOffer)
}

// DecodeAnswer decodes text and requires it to be an answer.
func DecodeAnswer(text string) (Handshake, error) {
	return decodeKind(text, KindAnswer)
}

func decodeKind(text string, want Kind) (Handshake, error) {
	h, err := Decode(text)
	if err != nil {
		return Handshake{}, err
	}
	if h.Kind != want {
		return Handshake{}, fmt.Errorf("%w: got %s, want %s", ErrWrongHandshakeType, h.Kind, want)
	}
	return h, nil
}

func validate(h Handshake) error {
	switch h.Kind {
	case KindOffer, KindAnswer:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedPayload, uint8(h.Kind))
	}
	if h.SDP == "" {
		return fmt.Errorf("%w: empty session description", ErrMalformedPayload)
	}
	if h.PeerID == "" {
		return fmt.Errorf("%w: empty peer id", ErrMalformedPayload)
	}
	return nil
}
