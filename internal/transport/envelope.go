package transport

import "github.com/dshills/katalyst/internal/codec"

// Envelope types exchanged between websocket clients and the relay.
const (
	// EnvelopeWelcome is sent by the relay on connect. ID is the peer's
	// assigned identifier and Peers lists those already present. Backlog
	// counts the retained frames that follow it.
	EnvelopeWelcome = "welcome"

	// EnvelopeJoin and EnvelopeLeave announce peers; ID names the peer.
	EnvelopeJoin  = "join"
	EnvelopeLeave = "leave"

	// EnvelopeMessage carries a frame. The client leaves ID empty; the
	// relay fills in the sender.
	EnvelopeMessage = "msg"
)

// Envelope is the relay wire format, encoded with the shared CBOR codec.
type Envelope struct {
	Type    string   `cbor:"t"`
	ID      string   `cbor:"i,omitempty"`
	Peers   []string `cbor:"p,omitempty"`
	Data    []byte   `cbor:"d,omitempty"`
	Retain  bool     `cbor:"r,omitempty"`
	Backlog int      `cbor:"n,omitempty"`
}

// EncodeEnvelope serializes e.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	return codec.Marshal(e)
}

// DecodeEnvelope parses an envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := codec.Unmarshal(data, &e)
	return e, err
}
