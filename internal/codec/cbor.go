// Package codec is the single CBOR configuration used for everything
// that crosses a process boundary: session frames, replica updates,
// awareness updates, and relay envelopes.
//
// Encoding is Core Deterministic (sorted keys, shortest integers), so
// identical values always produce identical bytes. Decoding ignores
// unknown fields so newer peers can add fields without breaking older
// ones.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Decode untyped maps as map[string]any so values can be handed
		// to JSON tooling unchanged.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Bound hostile input from peers.
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is an encoded CBOR value whose decoding is deferred.
type RawMessage = cbor.RawMessage

// Diagnose returns RFC 8949 diagnostic notation for data. Used in debug
// logging of malformed frames.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
