// Package transport defines the peer transport a collaboration session
// rides on, plus two implementations: an in-memory Hub for tests and
// single-process use, and a websocket client that talks to the relay in
// internal/relay and reconnects on its own.
//
// A transport carries opaque frames between the peers of one room. It
// knows nothing about documents or awareness. Callbacks on Handler may
// arrive on any goroutine; consumers hand them to their event loop.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates an operation on a closed connection.
	ErrClosed = errors.New("transport closed")

	// ErrNotConnected indicates a broadcast while the connection is down.
	// Callers rely on state sync after reconnect to catch peers up.
	ErrNotConnected = errors.New("transport not connected")
)

// Status is the connection state reported to a Handler.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// PeersChange reports peers joining or leaving the room.
type PeersChange struct {
	Added   []string
	Removed []string
}

// Message is a frame received from a peer.
type Message struct {
	From string
	Data []byte
}

// Handler receives connection events. Nil fields are ignored.
type Handler struct {
	OnStatus  func(Status)
	OnPeers   func(PeersChange)
	OnReceive func(Message)
}

func (h Handler) status(s Status) {
	if h.OnStatus != nil {
		h.OnStatus(s)
	}
}

func (h Handler) peers(p PeersChange) {
	if h.OnPeers != nil && (len(p.Added) > 0 || len(p.Removed) > 0) {
		h.OnPeers(p)
	}
}

func (h Handler) receive(m Message) {
	if h.OnReceive != nil {
		h.OnReceive(m)
	}
}

// Conn is one participant's connection to a room.
type Conn interface {
	// ID is this connection's peer identifier within the room. It may
	// change across reconnects of the websocket transport.
	ID() string

	// Broadcast sends data to every other peer in the room.
	Broadcast(data []byte, opts ...BroadcastOption) error

	// Status returns the current connection state.
	Status() Status

	// Close disconnects and releases resources. Idempotent.
	Close() error
}

// Transport opens room connections. Connect returns as soon as the
// connection is set up; Handler.OnStatus reports when it is live.
type Transport interface {
	Connect(ctx context.Context, room string, h Handler) (Conn, error)
}

type broadcastConfig struct {
	retain bool
}

// BroadcastOption modifies a Broadcast call.
type BroadcastOption func(*broadcastConfig)

// Retained asks the relay to keep the frame in the room backlog so
// peers that join later receive it.
func Retained() BroadcastOption {
	return func(c *broadcastConfig) { c.retain = true }
}

func applyBroadcastOptions(opts []BroadcastOption) broadcastConfig {
	var cfg broadcastConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
