package relay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/katalyst/internal/codec"
	"github.com/dshills/katalyst/internal/transport"
)

// bridgeFrame is what one relay instance publishes to the others.
type bridgeFrame struct {
	Instance string `cbor:"i"`
	Frame    []byte `cbor:"f"`
	Exclude  string `cbor:"x,omitempty"`
}

type room struct {
	server  *Server
	name    string
	logger  *slog.Logger
	backlog Backlog
	refs    int // guarded by server.mu

	mu      sync.Mutex
	clients map[string]*client
	order   []string

	pubsub *redis.PubSub
	done   chan struct{}
}

func newRoom(s *Server, name string) (*room, error) {
	rm := &room{
		server:  s,
		name:    name,
		logger:  s.logger.With("room", name),
		clients: make(map[string]*client),
		done:    make(chan struct{}),
	}
	if s.opts.Redis == nil {
		rm.backlog = newMemoryBacklog(s.opts.Backlog)
		close(rm.done)
		return rm, nil
	}

	rm.backlog = newRedisBacklog(s.opts.Redis, s.key(name, ":log"), s.opts.Backlog)

	ctx, cancel := background()
	defer cancel()
	ps := s.opts.Redis.Subscribe(ctx, s.key(name, ":events"))
	// Wait for the subscription so nothing published after join is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe room %s: %w", name, err)
	}
	rm.pubsub = ps
	go rm.consume(ps.Channel())
	return rm, nil
}

// consume delivers frames published by other instances.
func (rm *room) consume(ch <-chan *redis.Message) {
	defer close(rm.done)
	for msg := range ch {
		var bf bridgeFrame
		if err := codec.Unmarshal([]byte(msg.Payload), &bf); err != nil {
			rm.logger.Debug("dropping malformed bridge frame", "error", err)
			continue
		}
		if bf.Instance == rm.server.instance {
			continue
		}
		rm.mu.Lock()
		rm.deliverLocked(bf.Frame, bf.Exclude)
		rm.mu.Unlock()
	}
}

func (rm *room) size() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.clients)
}

// peers returns the IDs of every peer in the room, across instances
// when redis is configured.
func (rm *room) peers(ctx context.Context) ([]string, error) {
	if rdb := rm.server.opts.Redis; rdb != nil {
		ids, err := rdb.SMembers(ctx, rm.server.key(rm.name, ":peers")).Result()
		if err != nil {
			return nil, fmt.Errorf("list peers: %w", err)
		}
		slices.Sort(ids)
		return ids, nil
	}
	return slices.Clone(rm.order), nil
}

// join registers c, sends it the welcome and backlog, and announces it.
func (rm *room) join(ctx context.Context, c *client) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	existing, err := rm.peers(ctx)
	if err != nil {
		return err
	}
	frames, err := rm.backlog.Frames(ctx)
	if err != nil {
		return err
	}

	welcome, err := transport.EncodeEnvelope(transport.Envelope{
		Type:    transport.EnvelopeWelcome,
		ID:      c.id,
		Peers:   existing,
		Backlog: len(frames),
	})
	if err != nil {
		return err
	}
	c.send <- welcome
	for _, f := range frames {
		select {
		case c.send <- f:
		default:
			return fmt.Errorf("backlog exceeds send buffer")
		}
	}

	if rdb := rm.server.opts.Redis; rdb != nil {
		if err := rdb.SAdd(ctx, rm.server.key(rm.name, ":peers"), c.id).Err(); err != nil {
			return fmt.Errorf("register peer: %w", err)
		}
	}
	rm.clients[c.id] = c
	rm.order = append(rm.order, c.id)

	join, err := transport.EncodeEnvelope(transport.Envelope{Type: transport.EnvelopeJoin, ID: c.id})
	if err != nil {
		return err
	}
	rm.deliverLocked(join, c.id)
	rm.publish(join, c.id)
	rm.logger.Info("peer joined", "peer", c.id, "peers", len(rm.clients))
	return nil
}

// leave unregisters c and announces its departure.
func (rm *room) leave(c *client) {
	rm.mu.Lock()
	if _, ok := rm.clients[c.id]; !ok {
		rm.mu.Unlock()
		return
	}
	delete(rm.clients, c.id)
	rm.order = slices.DeleteFunc(rm.order, func(id string) bool { return id == c.id })
	close(c.send)

	if rdb := rm.server.opts.Redis; rdb != nil {
		ctx, cancel := background()
		if err := rdb.SRem(ctx, rm.server.key(rm.name, ":peers"), c.id).Err(); err != nil {
			rm.logger.Warn("unregister peer", "peer", c.id, "error", err)
		}
		cancel()
	}

	if leave, err := transport.EncodeEnvelope(transport.Envelope{Type: transport.EnvelopeLeave, ID: c.id}); err == nil {
		rm.deliverLocked(leave, c.id)
		rm.publish(leave, c.id)
	}
	remaining := len(rm.clients)
	rm.mu.Unlock()

	rm.logger.Info("peer left", "peer", c.id, "peers", remaining)
	rm.server.release(rm)
}

// forward relays a frame from c to everyone else.
func (rm *room) forward(c *client, env transport.Envelope) {
	env.ID = c.id
	frame, err := transport.EncodeEnvelope(env)
	if err != nil {
		rm.logger.Debug("re-encode frame", "error", err)
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if env.Retain {
		ctx, cancel := background()
		if err := rm.backlog.Append(ctx, frame); err != nil {
			rm.logger.Warn("backlog append failed", "error", err)
		}
		cancel()
	}
	rm.deliverLocked(frame, c.id)
	rm.publish(frame, c.id)
}

// deliverLocked queues frame for every local client except exclude.
// Clients that cannot keep up are dropped.
func (rm *room) deliverLocked(frame []byte, exclude string) {
	for _, id := range rm.order {
		if id == exclude {
			continue
		}
		c := rm.clients[id]
		select {
		case c.send <- frame:
		default:
			rm.logger.Warn("dropping slow peer", "peer", id)
			go c.ws.Close()
		}
	}
}

func (rm *room) publish(frame []byte, exclude string) {
	rdb := rm.server.opts.Redis
	if rdb == nil {
		return
	}
	payload, err := codec.Marshal(bridgeFrame{Instance: rm.server.instance, Frame: frame, Exclude: exclude})
	if err != nil {
		return
	}
	ctx, cancel := background()
	defer cancel()
	if err := rdb.Publish(ctx, rm.server.key(rm.name, ":events"), payload).Err(); err != nil {
		rm.logger.Warn("publish failed", "error", err)
	}
}

// disconnectAll closes every client socket. Their read pumps then leave
// the room normally.
func (rm *room) disconnectAll() {
	rm.mu.Lock()
	clients := make([]*client, 0, len(rm.clients))
	for _, c := range rm.clients {
		clients = append(clients, c)
	}
	rm.mu.Unlock()
	for _, c := range clients {
		c.ws.Close()
	}
}

func (rm *room) shutdown() {
	if rm.pubsub != nil {
		rm.pubsub.Close()
		<-rm.done
	}
}
