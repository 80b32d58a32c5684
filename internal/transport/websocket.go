package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// WebsocketOptions configures the websocket transport.
type WebsocketOptions struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with every handshake.
	Header http.Header

	// MaxBackoff caps the reconnect delay. Default 30s.
	MaxBackoff time.Duration

	Logger *slog.Logger
}

// Websocket is a Transport that connects to a relay at BaseURL
// (ws:// or wss://, or http(s):// which is rewritten). Rooms live at
// BaseURL/rooms/{room}.
type Websocket struct {
	baseURL string
	opts    WebsocketOptions
}

// NewWebsocket creates a websocket transport for the relay at baseURL.
func NewWebsocket(baseURL string, opts WebsocketOptions) *Websocket {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Websocket{baseURL: strings.TrimRight(baseURL, "/"), opts: opts}
}

// RoomURL returns the websocket URL for room.
func (w *Websocket) RoomURL(room string) (string, error) {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.RawPath = strings.TrimRight(u.EscapedPath(), "/") + "/rooms/" + url.PathEscape(room)
	if u.Path, err = url.PathUnescape(u.RawPath); err != nil {
		return "", fmt.Errorf("room path: %w", err)
	}
	return u.String(), nil
}

// Connect starts a connection to room. It returns immediately with
// status Connecting; the connection is retried with exponential backoff
// until ctx is cancelled or Close is called.
func (w *Websocket) Connect(ctx context.Context, room string, h Handler) (Conn, error) {
	target, err := w.RoomURL(room)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		url:     target,
		opts:    w.opts,
		handler: h,
		logger:  w.opts.Logger.With("room", room),
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusConnecting,
		done:    make(chan struct{}),
	}
	go c.run()
	return c, nil
}

type wsConn struct {
	url     string
	opts    WebsocketOptions
	handler Handler
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	id     string
	status Status
	peers  map[string]bool
	send   chan []byte
	ws     *websocket.Conn
	closed bool

	// Owned by the read pump. A welcome is held back until the backlog
	// it announces has been delivered.
	welcome  *Envelope
	replayed int
}

func (c *wsConn) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *wsConn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *wsConn) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.handler.status(s)
}

func (c *wsConn) Broadcast(data []byte, opts ...BroadcastOption) error {
	cfg := applyBroadcastOptions(opts)
	frame, err := EncodeEnvelope(Envelope{Type: EnvelopeMessage, Data: data, Retain: cfg.retain})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.status != StatusConnected || c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", ErrNotConnected)
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = ws.Close()
	}
	<-c.done
	return nil
}

// run dials, serves, and redials until the context ends.
func (c *wsConn) run() {
	defer close(c.done)
	defer c.setStatus(StatusDisconnected)

	for c.ctx.Err() == nil {
		ws, err := c.dial()
		if err != nil {
			return
		}
		c.serve(ws)
		c.dropPeers()
		if c.ctx.Err() != nil {
			return
		}
		c.setStatus(StatusConnecting)
	}
}

func (c *wsConn) dial() (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = 0

	var ws *websocket.Conn
	op := func() error {
		conn, resp, err := c.opts.Dialer.DialContext(c.ctx, c.url, c.opts.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		ws = conn
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.Debug("relay dial failed", "error", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, c.ctx), notify); err != nil {
		return nil, err
	}
	return ws, nil
}

// serve runs one connected session until the socket fails.
func (c *wsConn) serve(ws *websocket.Conn) {
	send := make(chan []byte, sendBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.send = send
	c.mu.Unlock()
	c.welcome = nil

	writerDone := make(chan struct{})
	go c.writePump(ws, send, writerDone)

	c.readPump(ws)

	c.mu.Lock()
	c.ws = nil
	c.send = nil
	c.mu.Unlock()
	close(send)
	<-writerDone
	ws.Close()
}

func (c *wsConn) readPump(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("relay connection lost", "error", err)
			}
			return
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			c.logger.Debug("dropping malformed envelope", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *wsConn) dispatch(env Envelope) {
	switch env.Type {
	case EnvelopeWelcome:
		c.mu.Lock()
		c.id = env.ID
		c.mu.Unlock()
		if env.Backlog > 0 {
			c.welcome, c.replayed = &env, 0
			return
		}
		c.connected(env)
	case EnvelopeJoin:
		c.mu.Lock()
		known := c.peers[env.ID]
		if c.peers != nil {
			c.peers[env.ID] = true
		}
		c.mu.Unlock()
		if !known {
			c.handler.peers(PeersChange{Added: []string{env.ID}})
		}
	case EnvelopeLeave:
		c.mu.Lock()
		known := c.peers[env.ID]
		delete(c.peers, env.ID)
		c.mu.Unlock()
		if known {
			c.handler.peers(PeersChange{Removed: []string{env.ID}})
		}
	case EnvelopeMessage:
		c.handler.receive(Message{From: env.ID, Data: env.Data})
		if w := c.welcome; w != nil {
			c.replayed++
			if c.replayed >= w.Backlog {
				c.welcome = nil
				c.connected(*w)
			}
		}
	default:
		c.logger.Debug("ignoring envelope", "type", env.Type)
	}
}

// connected reports the connection up once the welcome's backlog has
// been replayed, so consumers see retained frames before the status.
func (c *wsConn) connected(welcome Envelope) {
	c.mu.Lock()
	c.peers = make(map[string]bool, len(welcome.Peers))
	for _, p := range welcome.Peers {
		c.peers[p] = true
	}
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	c.handler.peers(PeersChange{Added: welcome.Peers})
}

// dropPeers reports every known peer as removed after a disconnect.
func (c *wsConn) dropPeers() {
	c.mu.Lock()
	removed := make([]string, 0, len(c.peers))
	for p := range c.peers {
		removed = append(removed, p)
	}
	c.peers = nil
	c.mu.Unlock()
	c.handler.peers(PeersChange{Removed: removed})
}

func (c *wsConn) writePump(ws *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				ws.Close()
				drain(send)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.Close()
				drain(send)
				return
			}
		}
	}
}

func drain(ch <-chan []byte) {
	for range ch {
	}
}
