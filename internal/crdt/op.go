package crdt

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrOutOfRange indicates a local edit outside the document.
	ErrOutOfRange = errors.New("position out of range")

	// ErrMalformedUpdate indicates an operation or update that cannot be
	// decoded or is structurally invalid.
	ErrMalformedUpdate = errors.New("malformed update")
)

// ID identifies an operation: the creating client and that client's
// clock at creation.
type ID struct {
	Client uint32 `cbor:"c"`
	Clock  uint64 `cbor:"k"`
}

// String returns a compact form such as "17@4".
func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Client, id.Clock)
}

func sameID(a, b *ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// OpKind distinguishes inserts from deletes.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", k)
	}
}

// Op is a single replicated operation.
//
// For OpInsert, Text holds exactly one rune and Origin/Right name the
// neighbours the rune was inserted between (nil for document start or
// end). For OpDelete, Target names the item being removed.
type Op struct {
	Kind   OpKind `cbor:"t"`
	ID     ID     `cbor:"i"`
	Origin *ID    `cbor:"o,omitempty"`
	Right  *ID    `cbor:"r,omitempty"`
	Text   string `cbor:"v,omitempty"`
	Target *ID    `cbor:"d,omitempty"`
}

func (op Op) String() string {
	switch op.Kind {
	case OpInsert:
		return fmt.Sprintf("insert %s %q", op.ID, op.Text)
	case OpDelete:
		if op.Target != nil {
			return fmt.Sprintf("delete %s -> %s", op.ID, *op.Target)
		}
	}
	return fmt.Sprintf("%s %s", op.Kind, op.ID)
}

// validate checks structural invariants of a remote operation.
func (op Op) validate() error {
	switch op.Kind {
	case OpInsert:
		if utf8.RuneCountInString(op.Text) != 1 || !utf8.ValidString(op.Text) {
			return fmt.Errorf("%w: insert %s carries %q", ErrMalformedUpdate, op.ID, op.Text)
		}
	case OpDelete:
		if op.Target == nil {
			return fmt.Errorf("%w: delete %s has no target", ErrMalformedUpdate, op.ID)
		}
	default:
		return fmt.Errorf("%w: unknown op kind %d", ErrMalformedUpdate, op.Kind)
	}
	return nil
}

// StateVector maps a client to the next clock expected from it.
type StateVector map[uint32]uint64

// Clone returns an independent copy.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// Covers reports whether sv has seen every operation other has seen.
func (sv StateVector) Covers(other StateVector) bool {
	for client, clock := range other {
		if sv[client] < clock {
			return false
		}
	}
	return true
}
