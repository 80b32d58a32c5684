package crdt

import (
	"fmt"
	"unicode/utf8"

	"github.com/dshills/katalyst/internal/codec"
)

type update struct {
	Ops []Op `cbor:"o"`
}

// EncodeUpdate serializes ops for transmission.
func EncodeUpdate(ops []Op) ([]byte, error) {
	return codec.Marshal(update{Ops: ops})
}

// DecodeUpdate parses an update produced by EncodeUpdate.
func DecodeUpdate(data []byte) ([]Op, error) {
	var u update
	if err := codec.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	for _, op := range u.Ops {
		if err := op.validate(); err != nil {
			return nil, err
		}
	}
	return u.Ops, nil
}

// EncodeStateVector serializes a state vector.
func EncodeStateVector(sv StateVector) ([]byte, error) {
	if sv == nil {
		sv = StateVector{}
	}
	return codec.Marshal(sv)
}

// DecodeStateVector parses a state vector produced by EncodeStateVector.
func DecodeStateVector(data []byte) (StateVector, error) {
	var sv StateVector
	if err := codec.Unmarshal(data, &sv); err != nil {
		return nil, fmt.Errorf("%w: state vector: %v", ErrMalformedUpdate, err)
	}
	if sv == nil {
		sv = StateVector{}
	}
	return sv, nil
}

func decodeRune(s string) (rune, int) {
	return utf8.DecodeRuneInString(s)
}
