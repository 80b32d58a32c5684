package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// DefaultBacklog is the number of retained frames kept per room.
const DefaultBacklog = 1000

// Options configures a Server.
type Options struct {
	// Backlog caps retained frames per room. Default DefaultBacklog.
	Backlog int

	// Redis enables cross-instance fan-out, shared peer lists, and a
	// shared backlog. Optional.
	Redis *redis.Client

	// KeyPrefix namespaces redis keys and channels. Default "katalyst:room:".
	KeyPrefix string

	// CheckOrigin overrides the websocket origin check. The default
	// accepts every origin.
	CheckOrigin func(r *http.Request) bool

	Logger *slog.Logger
}

// Server is the relay's http.Handler.
type Server struct {
	opts     Options
	logger   *slog.Logger
	instance string
	router   *mux.Router
	upgrader websocket.Upgrader

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

// New creates a relay server.
func New(opts Options) *Server {
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "katalyst:room:"
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		opts:     opts,
		logger:   opts.Logger,
		instance: uuid.NewString(),
		rooms:    make(map[string]*room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/rooms/{room}", s.handleRoom).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["room"]
	if name == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	rm, err := s.room(name)
	if err != nil {
		s.logger.Warn("room unavailable", "room", name, "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "room unavailable"),
			time.Now().Add(writeWait))
		ws.Close()
		return
	}

	c := newClient(rm, ws)
	if err := rm.join(r.Context(), c); err != nil {
		s.logger.Warn("join failed", "room", name, "error", err)
		ws.Close()
		s.release(rm)
		return
	}
	go c.writePump()
	c.readPump()
}

type health struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
	Peers  int    `json:"peers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	h := health{Status: "ok", Rooms: len(s.rooms)}
	for _, rm := range s.rooms {
		h.Peers += rm.size()
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}

// room returns the named room, creating it on first use.
func (s *Server) room(name string) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, http.ErrServerClosed
	}
	if rm, ok := s.rooms[name]; ok {
		rm.refs++
		return rm, nil
	}
	rm, err := newRoom(s, name)
	if err != nil {
		return nil, err
	}
	rm.refs = 1
	s.rooms[name] = rm
	return rm, nil
}

// release drops a reference to rm and tears it down when unused.
func (s *Server) release(rm *room) {
	s.mu.Lock()
	rm.refs--
	last := rm.refs == 0
	if last {
		delete(s.rooms, rm.name)
	}
	s.mu.Unlock()
	if last {
		rm.shutdown()
	}
}

// Close disconnects every peer and stops redis subscriptions.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	rooms := make([]*room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		rooms = append(rooms, rm)
	}
	s.mu.Unlock()

	for _, rm := range rooms {
		rm.disconnectAll()
	}
	return nil
}

func (s *Server) key(room, suffix string) string {
	return s.opts.KeyPrefix + room + suffix
}

func background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
