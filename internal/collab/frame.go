package collab

import "github.com/dshills/katalyst/internal/codec"

type frameKind string

const (
	kindUpdate      frameKind = "update"
	kindSyncRequest frameKind = "sync-req"
	kindSyncReply   frameKind = "sync-reply"
	kindAwareness   frameKind = "awareness"
)

// frame is the session payload carried inside transport messages.
type frame struct {
	Kind   frameKind `cbor:"k"`
	File   string    `cbor:"f,omitempty"`
	To     string    `cbor:"to,omitempty"`
	Client uint32    `cbor:"c"`
	Data   []byte    `cbor:"d,omitempty"`
}

func encodeFrame(f frame) ([]byte, error) {
	return codec.Marshal(f)
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	err := codec.Unmarshal(data, &f)
	return f, err
}
