package mesh

import (
	"time"

	cbor "github.com/fxamacker/cbor/v2"
)

// envelope wraps every payload sent over a data channel with the sender's
// identity and a send timestamp (unix ms). The channel itself is ordered
// and reliable; no extra framing is needed.
type envelope struct {
	From   string `cbor:"1,keyasint"`
	SentAt int64  `cbor:"2,keyasint"`
	Body   []byte `cbor:"3,keyasint"`
}

var wireEnc cbor.EncMode

func init() {
	var err error
	if wireEnc, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
}

func encodeEnvelope(from string, body []byte) ([]byte, error) {
	return wireEnc.Marshal(envelope{
		From:   from,
		SentAt: time.Now().UnixMilli(),
		Body:   body,
	})
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	err := cbor.Unmarshal(data, &env)
	return env, err
}
