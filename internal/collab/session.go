package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/dshills/katalyst/internal/awareness"
	"github.com/dshills/katalyst/internal/clock"
	"github.com/dshills/katalyst/internal/crdt"
	"github.com/dshills/katalyst/internal/eventloop"
	"github.com/dshills/katalyst/internal/text"
	"github.com/dshills/katalyst/internal/transport"
)

// OriginRemote tags document changes merged from peers.
const OriginRemote = "remote"

// ErrClosed indicates use of a closed session.
var ErrClosed = errors.New("session closed")

// Options configures Open.
type Options struct {
	Transport transport.Transport
	Loop      eventloop.Loop

	// Clock drives awareness renewal and timeouts. Default real time.
	Clock clock.Clock

	// Identity fields left empty are filled with random defaults.
	Identity Identity

	// ClientID identifies this participant in documents and awareness.
	// Zero picks a random ID.
	ClientID uint32

	AwarenessTimeout time.Duration
	AwarenessRenew   time.Duration

	Logger *slog.Logger
}

// Session is one participant's membership in a collaboration room.
//
// Methods other than Connected must be called on the session's loop.
type Session struct {
	room      string
	loop      eventloop.Loop
	logger    *slog.Logger
	client    uint32
	awareness *awareness.Channel

	mu        sync.Mutex
	conn      transport.Conn
	connected bool
	closed    bool

	// Owned by the loop.
	docs           map[string]*crdt.Document
	unobserve      []func()
	peerClients    map[string]uint32
	peers          map[string]bool
	peersKnown     bool
	rounds         map[string]*syncRound
	roster         *roster
	participants   []Participant
	statusFns      []func(bool)
	participantFns []func([]Participant)
}

// Open joins room. The returned session is not yet connected; watch
// Connected or OnStatus for the transport to come up.
func Open(ctx context.Context, room string, opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("open session: no transport")
	}
	if opts.Loop == nil {
		return nil, fmt.Errorf("open session: no event loop")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	client := opts.ClientID
	for client == 0 {
		client = rand.Uint32()
	}

	s := &Session{
		room:        room,
		loop:        opts.Loop,
		logger:      opts.Logger.With("room", room, "client", client),
		client:      client,
		docs:        make(map[string]*crdt.Document),
		peerClients: make(map[string]uint32),
		peers:       make(map[string]bool),
		rounds:      make(map[string]*syncRound),
		roster:      newRoster(),
	}
	s.awareness = awareness.New(client, awareness.Options{
		Clock:   opts.Clock,
		Timeout: opts.AwarenessTimeout,
		Renew:   opts.AwarenessRenew,
		Logger:  s.logger,
	})
	s.awareness.OnChange(func(ch awareness.Change) {
		s.loop.Post(func() { s.handleAwarenessChange(ch) })
	})
	s.awareness.OnUpdate(func(ch awareness.Change) {
		for _, id := range ch.All() {
			if id == client {
				s.loop.Post(s.broadcastAwareness)
				return
			}
		}
	})

	identity := opts.Identity.withRandomDefaults()
	if err := s.awareness.SetLocalStateField("user", identity); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	conn, err := opts.Transport.Connect(ctx, room, transport.Handler{
		OnStatus: func(st transport.Status) {
			s.loop.Post(func() { s.handleStatus(st) })
		},
		OnPeers: func(pc transport.PeersChange) {
			s.loop.Post(func() { s.handlePeers(pc) })
		},
		OnReceive: func(m transport.Message) {
			s.loop.Post(func() { s.handleMessage(m) })
		},
	})
	if err != nil {
		s.awareness.Close()
		return nil, fmt.Errorf("open session %s: %w", room, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.awareness.Start()
	s.logger.Info("collaboration session opened", "name", identity.Name)
	return s, nil
}

// Room returns the room name.
func (s *Session) Room() string { return s.room }

// ClientID returns the local participant's client ID.
func (s *Session) ClientID() uint32 { return s.client }

// Awareness returns the session's awareness channel.
func (s *Session) Awareness() *awareness.Channel { return s.awareness }

// Connected reports whether the transport is live. Safe from any goroutine.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) connection() transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.conn
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// OnStatus registers fn to be called when connectivity changes.
func (s *Session) OnStatus(fn func(connected bool)) {
	s.statusFns = append(s.statusFns, fn)
}

// OnParticipants registers fn to be called with the new roster
// whenever it is recomputed.
func (s *Session) OnParticipants(fn func([]Participant)) {
	s.participantFns = append(s.participantFns, fn)
}

// Participants returns the current roster, ordered by join.
func (s *Session) Participants() []Participant {
	return append([]Participant(nil), s.participants...)
}

// Document returns the replicated document for fileID, creating it on
// first use. The first call for a file asks connected peers for their
// state; OnSynced reports when they have all answered.
func (s *Session) Document(fileID string) (*crdt.Document, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	d, ok := s.docs[fileID]
	if !ok {
		d = s.openDocument(fileID)
	}
	if _, ok := s.rounds[fileID]; !ok {
		s.rounds[fileID] = &syncRound{}
		if s.Connected() {
			if s.peersKnown {
				s.startRound(fileID)
			} else {
				s.requestSync(fileID, d)
			}
		}
	}
	return d, nil
}

func (s *Session) openDocument(fileID string) *crdt.Document {
	d := crdt.New(s.client)
	s.docs[fileID] = d
	s.unobserve = append(s.unobserve, d.Observe(func(ev crdt.Event) {
		if ev.Remote {
			return
		}
		s.broadcastUpdate(fileID, ev.Ops)
	}))
	return d
}

// OnSynced calls fn on the loop once fileID has finished its first
// sync round: every peer present when the session connected has
// answered a state request for the file, or left. With no peers in the
// room the round ends as soon as the connection is up. fileID must
// have been opened with Document.
func (s *Session) OnSynced(fileID string, fn func()) {
	r := s.rounds[fileID]
	if r == nil {
		return
	}
	if r.done {
		s.loop.Post(fn)
		return
	}
	r.fns = append(r.fns, fn)
}

// Files returns the IDs of the open documents, sorted.
func (s *Session) Files() []string {
	files := make([]string, 0, len(s.docs))
	for f := range s.docs {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// UpdateIdentity changes the local name and/or color. Empty arguments
// leave the corresponding field unchanged.
func (s *Session) UpdateIdentity(name, color string) error {
	if name != "" {
		if err := s.awareness.SetLocalStateField("user.name", name); err != nil {
			return err
		}
	}
	if color != "" {
		if err := s.awareness.SetLocalStateField("user.color", color); err != nil {
			return err
		}
	}
	return nil
}

// SetCursor publishes the local cursor in fileID. A nil pos clears it.
func (s *Session) SetCursor(fileID string, pos *text.Position) error {
	if pos == nil {
		return s.awareness.SetLocalStateField("cursor", nil)
	}
	return s.awareness.SetLocalStateField("cursor", map[string]any{
		"file":   fileID,
		"line":   pos.Line,
		"column": pos.Column,
	})
}

// Close leaves the room: the local awareness state is withdrawn, the
// transport is closed, and the local documents are released. Safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()

	s.awareness.Close()
	var err error
	if conn != nil {
		if wasConnected {
			s.sendAwareness(conn)
		}
		err = conn.Close()
	}
	for _, off := range s.unobserve {
		off()
	}
	s.unobserve = nil
	s.docs = nil
	s.rounds = nil
	if wasConnected {
		s.notifyStatus(false)
	}
	s.logger.Info("collaboration session closed")
	return err
}

func (s *Session) notifyStatus(connected bool) {
	for _, fn := range s.statusFns {
		fn(connected)
	}
}

func (s *Session) handleStatus(st transport.Status) {
	if s.isClosed() {
		return
	}
	connected := st == transport.StatusConnected
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()

	s.logger.Info("connection status", "status", st.String())
	s.resetRounds()
	if connected {
		// The transport queues the peer list and any retained frames
		// ahead of this turn's posts.
		s.loop.Post(s.peersSettled)
		s.announce()
	} else {
		s.dropRemotes("disconnect")
	}
	if changed {
		s.notifyStatus(connected)
	}
}

func (s *Session) handlePeers(pc transport.PeersChange) {
	if s.isClosed() {
		return
	}
	for _, id := range pc.Added {
		s.peers[id] = true
	}
	for _, id := range pc.Removed {
		delete(s.peers, id)
		s.roundsForget(id)
	}
	s.logger.Info("peers changed", "added", pc.Added, "removed", pc.Removed, "total", len(s.peers))

	var gone []uint32
	for _, id := range pc.Removed {
		if client, ok := s.peerClients[id]; ok {
			gone = append(gone, client)
			delete(s.peerClients, id)
		}
	}
	if len(gone) > 0 {
		s.awareness.RemoveStates(gone, "peer-left")
	}
	if len(pc.Added) > 0 {
		s.announce()
	}
}

// dropRemotes forgets every remote participant. They reappear when
// their awareness is received again.
func (s *Session) dropRemotes(origin string) {
	var remote []uint32
	for client := range s.awareness.States() {
		if client != s.client {
			remote = append(remote, client)
		}
	}
	clear(s.peerClients)
	clear(s.peers)
	if len(remote) > 0 {
		s.awareness.RemoveStates(remote, origin)
	}
}

func (s *Session) handleMessage(m transport.Message) {
	if s.isClosed() {
		return
	}
	f, err := decodeFrame(m.Data)
	if err != nil {
		s.logger.Debug("dropping malformed frame", "from", m.From, "error", err)
		return
	}
	if f.Client != 0 && f.Client != s.client {
		s.peerClients[m.From] = f.Client
	}

	switch f.Kind {
	case kindUpdate:
		s.applyOps(f.File, f.Data)
	case kindSyncRequest:
		s.answerSync(m.From, f)
	case kindSyncReply:
		if conn := s.connection(); conn == nil || f.To != conn.ID() {
			return
		}
		s.applyOps(f.File, f.Data)
		s.roundAnswered(f.File, m.From)
	case kindAwareness:
		if err := s.awareness.ApplyUpdate(f.Data, m.From); err != nil {
			s.logger.Debug("bad awareness update", "from", m.From, "error", err)
		}
	default:
		s.logger.Debug("unknown frame kind", "kind", f.Kind)
	}
}

func (s *Session) doc(fileID string) *crdt.Document {
	if d, ok := s.docs[fileID]; ok {
		return d
	}
	return s.openDocument(fileID)
}

func (s *Session) applyOps(fileID string, data []byte) {
	ops, err := crdt.DecodeUpdate(data)
	if err != nil {
		s.logger.Debug("bad update", "file", fileID, "error", err)
		return
	}
	if len(ops) == 0 {
		return
	}
	if err := s.doc(fileID).Apply(ops, OriginRemote); err != nil {
		s.logger.Warn("merge failed", "file", fileID, "error", err)
	}
}

func (s *Session) answerSync(from string, f frame) {
	sv, err := crdt.DecodeStateVector(f.Data)
	if err != nil {
		s.logger.Debug("bad state vector", "from", from, "error", err)
		return
	}
	// An empty reply still tells the requester this peer has answered.
	missing := s.doc(f.File).Diff(sv)
	data, err := crdt.EncodeUpdate(missing)
	if err != nil {
		s.logger.Warn("encode sync reply", "error", err)
		return
	}
	s.broadcast(frame{Kind: kindSyncReply, File: f.File, To: from, Data: data}, false)
}

// announce sends sync requests for every document and renews the local
// awareness state, which the OnUpdate hook then broadcasts. Renewing
// moves the clock past any removal peers recorded while we were away.
func (s *Session) announce() {
	for _, f := range s.Files() {
		s.requestSync(f, s.docs[f])
	}
	s.awareness.Renew()
}

func (s *Session) requestSync(fileID string, d *crdt.Document) {
	data, err := crdt.EncodeStateVector(d.StateVector())
	if err != nil {
		s.logger.Warn("encode state vector", "error", err)
		return
	}
	s.broadcast(frame{Kind: kindSyncRequest, File: fileID, Data: data}, false)
	if r := s.rounds[fileID]; r != nil {
		r.requested = true
	}
}

func (s *Session) broadcastUpdate(fileID string, ops []crdt.Op) {
	data, err := crdt.EncodeUpdate(ops)
	if err != nil {
		s.logger.Warn("encode update", "error", err)
		return
	}
	s.broadcast(frame{Kind: kindUpdate, File: fileID, Data: data}, true)
}

func (s *Session) broadcastAwareness() {
	if conn := s.connection(); conn != nil {
		s.sendAwareness(conn)
	}
}

func (s *Session) sendAwareness(conn transport.Conn) {
	data, err := s.awareness.EncodeUpdate([]uint32{s.client})
	if err != nil {
		s.logger.Warn("encode awareness", "error", err)
		return
	}
	s.send(conn, frame{Kind: kindAwareness, Data: data}, false)
}

func (s *Session) broadcast(f frame, retain bool) {
	if conn := s.connection(); conn != nil {
		s.send(conn, f, retain)
	}
}

func (s *Session) send(conn transport.Conn, f frame, retain bool) {
	f.Client = s.client
	data, err := encodeFrame(f)
	if err != nil {
		s.logger.Warn("encode frame", "kind", f.Kind, "error", err)
		return
	}
	var opts []transport.BroadcastOption
	if retain {
		opts = append(opts, transport.Retained())
	}
	if err := conn.Broadcast(data, opts...); err != nil {
		// State sync after reconnect recovers anything dropped here.
		s.logger.Debug("broadcast failed", "kind", f.Kind, "error", err)
	}
}

func (s *Session) handleAwarenessChange(ch awareness.Change) {
	if s.isClosed() {
		return
	}
	for _, id := range ch.Removed {
		s.roster.forget(id)
	}
	s.participants = s.roster.build(s.awareness.States(), s.client)
	for _, fn := range s.participantFns {
		fn(s.Participants())
	}
}

// syncRound tracks the first exchange of state for a locally opened
// document. It is restarted on every reconnect until it completes.
type syncRound struct {
	requested bool
	started   bool
	done      bool
	waiting   map[string]bool
	answered  map[string]bool
	fns       []func()
}

// peersSettled runs after the connect notifications have been handled,
// when the peer list is complete.
func (s *Session) peersSettled() {
	if s.isClosed() || !s.Connected() {
		return
	}
	s.peersKnown = true
	for _, f := range s.roundFiles() {
		s.startRound(f)
	}
}

func (s *Session) roundFiles() []string {
	files := make([]string, 0, len(s.rounds))
	for f := range s.rounds {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func (s *Session) startRound(fileID string) {
	r := s.rounds[fileID]
	if r == nil || r.done || r.started {
		return
	}
	if !r.requested {
		s.requestSync(fileID, s.docs[fileID])
	}
	r.started = true
	r.waiting = maps.Clone(s.peers)
	for id := range r.answered {
		delete(r.waiting, id)
	}
	s.finishRound(fileID, r)
}

func (s *Session) roundAnswered(fileID, from string) {
	r := s.rounds[fileID]
	if r == nil || r.done {
		return
	}
	if !r.started {
		if r.answered == nil {
			r.answered = make(map[string]bool)
		}
		r.answered[from] = true
		return
	}
	delete(r.waiting, from)
	s.finishRound(fileID, r)
}

func (s *Session) roundsForget(peer string) {
	for _, f := range s.roundFiles() {
		if r := s.rounds[f]; r.started && !r.done {
			delete(r.waiting, peer)
			s.finishRound(f, r)
		}
	}
}

func (s *Session) finishRound(fileID string, r *syncRound) {
	if !r.started || r.done || len(r.waiting) > 0 {
		return
	}
	r.done = true
	r.waiting, r.answered = nil, nil
	s.logger.Debug("document synced", "file", fileID)
	for _, fn := range r.fns {
		s.loop.Post(fn)
	}
	r.fns = nil
}

// resetRounds abandons unfinished rounds; they start over once the
// connection is up and the peer list is known.
func (s *Session) resetRounds() {
	s.peersKnown = false
	for _, r := range s.rounds {
		if !r.done {
			r.requested, r.started = false, false
			r.waiting, r.answered = nil, nil
		}
	}
}
