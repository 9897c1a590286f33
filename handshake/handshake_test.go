package handshake

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferRoundTrip(t *testing.T) {
	in := NewOffer("v=0\r\no=- 42 2 IN IP4 127.0.0.1\r\n", "peer-abc", "1.0")

	text, err := Encode(in)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(text, "MLK1."))

	out, err := Decode(text)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAnswerRoundTrip(t *testing.T) {
	in := NewAnswer("v=0\r\nanswer sdp\r\n", "peer-def")

	text, err := Encode(in)
	require.NoError(t, err)

	out, err := DecodeAnswer(text)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Empty(t, out.Version)
}

func TestEncodeDeterministic(t *testing.T) {
	h := NewOffer("sdp", "peer", "1.0")
	a, err := Encode(h)
	require.NoError(t, err)
	b, err := Encode(h)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(NewOffer("sdp", "peer", "1.0"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":            "",
		"garbage":          "not a handshake at all",
		"wrong prefix":     "QRX9." + valid[len("MLK1."):],
		"bad base64":       "MLK1.!!!not-base64!!!",
		"truncated cbor":   valid[:len(valid)-6],
		"prefix only":      "MLK1.",
		"scanned nonsense": "https://example.com/join?x=1",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(text)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestEncodeRejectsMissingFields(t *testing.T) {
	_, err := Encode(Handshake{Kind: KindOffer, PeerID: "peer"})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = Encode(Handshake{Kind: KindOffer, SDP: "sdp"})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = Encode(Handshake{Kind: Kind(9), SDP: "sdp", PeerID: "peer"})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeWrongKind(t *testing.T) {
	offerText, err := Encode(NewOffer("sdp", "peer", "1.0"))
	require.NoError(t, err)
	answerText, err := Encode(NewAnswer("sdp", "peer"))
	require.NoError(t, err)

	_, err = DecodeAnswer(offerText)
	assert.ErrorIs(t, err, ErrWrongHandshakeType)

	_, err = DecodeOffer(answerText)
	assert.ErrorIs(t, err, ErrWrongHandshakeType)

	// The kind check happens after structural validation.
	_, err = DecodeOffer("junk")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
