package transport

import (
	"context"
	"fmt"
	"sync"
)

// Hub is an in-memory Transport. All connections made through one Hub
// share its rooms. Frames are delivered synchronously on the sender's
// goroutine, in send order. Retained frames are replayed to later
// joiners.
//
// Partition and Heal simulate network disruption for a single
// connection.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	rooms   map[string]*memRoom
	maxKeep int
}

type memRoom struct {
	conns    map[string]*memConn
	order    []string
	retained []Message
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*memRoom), maxKeep: 1000}
}

type memConn struct {
	hub     *Hub
	room    string
	id      string
	handler Handler

	// Guarded by hub.mu.
	status Status
	closed bool
}

type delivery func()

// Connect joins room. The handler sees StatusConnected, then the peers
// already present, then any retained frames, before Connect returns.
func (h *Hub) Connect(ctx context.Context, room string, handler Handler) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.nextID++
	c := &memConn{
		hub:     h,
		room:    room,
		id:      fmt.Sprintf("mem-%d", h.nextID),
		handler: handler,
	}
	r := h.rooms[room]
	if r == nil {
		r = &memRoom{conns: make(map[string]*memConn)}
		h.rooms[room] = r
	}
	r.conns[c.id] = c
	r.order = append(r.order, c.id)
	deliveries := h.attachLocked(r, c)
	h.mu.Unlock()

	run(deliveries)
	return c, nil
}

// attachLocked marks c connected and returns the notifications that
// follow from it.
func (h *Hub) attachLocked(r *memRoom, c *memConn) []delivery {
	c.status = StatusConnected
	var out []delivery
	out = append(out, func() { c.handler.status(StatusConnected) })

	var present []string
	for _, id := range r.order {
		other := r.conns[id]
		if other == c || other.status != StatusConnected {
			continue
		}
		present = append(present, id)
		o := other
		out = append(out, func() { o.handler.peers(PeersChange{Added: []string{c.id}}) })
	}
	out = append(out, func() { c.handler.peers(PeersChange{Added: present}) })

	for _, m := range r.retained {
		msg := m
		if msg.From == c.id {
			continue
		}
		out = append(out, func() { c.handler.receive(msg) })
	}
	return out
}

// detachLocked marks c disconnected and returns the notifications.
func (h *Hub) detachLocked(r *memRoom, c *memConn) []delivery {
	if c.status != StatusConnected {
		return nil
	}
	c.status = StatusDisconnected
	out := []delivery{func() { c.handler.status(StatusDisconnected) }}
	for _, id := range r.order {
		other := r.conns[id]
		if other == c || other.status != StatusConnected {
			continue
		}
		o := other
		out = append(out, func() { o.handler.peers(PeersChange{Removed: []string{c.id}}) })
	}
	return out
}

func run(ds []delivery) {
	for _, d := range ds {
		d()
	}
}

// Partition cuts conn off from its room without closing it.
func (h *Hub) Partition(conn Conn) {
	c, ok := conn.(*memConn)
	if !ok {
		return
	}
	h.mu.Lock()
	var ds []delivery
	if r := h.rooms[c.room]; r != nil && !c.closed {
		ds = h.detachLocked(r, c)
	}
	h.mu.Unlock()
	run(ds)
}

// Heal reconnects a partitioned conn. Frames sent while it was
// partitioned are lost except for retained ones, which are replayed.
func (h *Hub) Heal(conn Conn) {
	c, ok := conn.(*memConn)
	if !ok {
		return
	}
	h.mu.Lock()
	var ds []delivery
	if r := h.rooms[c.room]; r != nil && !c.closed && c.status != StatusConnected {
		ds = h.attachLocked(r, c)
	}
	h.mu.Unlock()
	run(ds)
}

// Peers returns the connected peer IDs of room, in join order.
func (h *Hub) Peers(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[room]
	if r == nil {
		return nil
	}
	var out []string
	for _, id := range r.order {
		if r.conns[id].status == StatusConnected {
			out = append(out, id)
		}
	}
	return out
}

func (c *memConn) ID() string { return c.id }

func (c *memConn) Status() Status {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.status
}

func (c *memConn) Broadcast(data []byte, opts ...BroadcastOption) error {
	cfg := applyBroadcastOptions(opts)

	h := c.hub
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if c.status != StatusConnected {
		h.mu.Unlock()
		return ErrNotConnected
	}
	r := h.rooms[c.room]
	msg := Message{From: c.id, Data: append([]byte(nil), data...)}
	if cfg.retain {
		r.retained = append(r.retained, msg)
		if len(r.retained) > h.maxKeep {
			r.retained = r.retained[len(r.retained)-h.maxKeep:]
		}
	}
	var ds []delivery
	for _, id := range r.order {
		other := r.conns[id]
		if other == c || other.status != StatusConnected {
			continue
		}
		o := other
		ds = append(ds, func() { o.handler.receive(msg) })
	}
	h.mu.Unlock()

	run(ds)
	return nil
}

func (c *memConn) Close() error {
	h := c.hub
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return nil
	}
	r := h.rooms[c.room]
	ds := h.detachLocked(r, c)
	c.closed = true
	delete(r.conns, c.id)
	for i, id := range r.order {
		if id == c.id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	if len(r.conns) == 0 {
		delete(h.rooms, c.room)
	}
	h.mu.Unlock()

	run(ds)
	return nil
}
