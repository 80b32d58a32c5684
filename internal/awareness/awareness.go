// Package awareness implements the ephemeral per-participant state that
// travels alongside a replicated document: identity, color, and cursor.
//
// Each client owns one JSON object. Every local write bumps that
// client's clock; remote updates are accepted only when their clock is
// newer, so updates may arrive in any order. A null state removes the
// client. Remote entries that are not refreshed within the timeout are
// dropped by Sweep, and the local entry is re-announced once it is
// older than the renew interval so peers do not drop it.
//
// States are stored as raw JSON and read with gjson; SetLocalStateField
// uses sjson to change one path without touching the rest.
package awareness

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/katalyst/internal/clock"
	"github.com/dshills/katalyst/internal/codec"
)

// Origins attached to changes.
const (
	OriginLocal   = "local"
	OriginTimeout = "timeout"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultRenew   = 15 * time.Second
)

// ErrInvalidState indicates a state that is not a JSON object.
var ErrInvalidState = errors.New("awareness state must be a JSON object")

// Change lists the clients affected by one update.
type Change struct {
	Added   []uint32
	Updated []uint32
	Removed []uint32
	Origin  string
}

// Empty reports whether the change touched no client.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// All returns every affected client, sorted.
func (c Change) All() []uint32 {
	all := make([]uint32, 0, len(c.Added)+len(c.Updated)+len(c.Removed))
	all = append(all, c.Added...)
	all = append(all, c.Updated...)
	all = append(all, c.Removed...)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// Options configures a Channel.
type Options struct {
	Clock   clock.Clock
	Timeout time.Duration
	Renew   time.Duration
	Logger  *slog.Logger
}

type meta struct {
	clock       uint32
	lastUpdated time.Time
}

// Channel is the awareness registry of one room. It is safe for
// concurrent use; listeners run without the lock held.
type Channel struct {
	mu       sync.Mutex
	clientID uint32
	clk      clock.Clock
	timeout  time.Duration
	renew    time.Duration
	logger   *slog.Logger

	states map[uint32]string
	meta   map[uint32]meta

	sweepTimer *clock.Timer
	closed     bool

	lmu      sync.Mutex
	onChange []func(Change)
	onUpdate []func(Change)
}

// New creates a channel for clientID. The local state starts empty
// ({}), matching a freshly connected participant.
func New(clientID uint32, opts Options) *Channel {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Renew <= 0 {
		opts.Renew = opts.Timeout / 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	c := &Channel{
		clientID: clientID,
		clk:      opts.Clock,
		timeout:  opts.Timeout,
		renew:    opts.Renew,
		logger:   opts.Logger,
		states:   make(map[uint32]string),
		meta:     make(map[uint32]meta),
	}
	c.states[clientID] = "{}"
	c.meta[clientID] = meta{clock: 0, lastUpdated: c.clk.Now()}
	return c
}

// ClientID returns the local client ID.
func (c *Channel) ClientID() uint32 { return c.clientID }

// OnChange registers fn for updates that add, remove, or modify a state.
func (c *Channel) OnChange(fn func(Change)) {
	c.lmu.Lock()
	c.onChange = append(c.onChange, fn)
	c.lmu.Unlock()
}

// OnUpdate registers fn for every accepted update, including renewals
// that leave the state unchanged. Updated lists every client touched.
func (c *Channel) OnUpdate(fn func(Change)) {
	c.lmu.Lock()
	c.onUpdate = append(c.onUpdate, fn)
	c.lmu.Unlock()
}

func (c *Channel) emit(change, update Change) {
	c.lmu.Lock()
	changeFns := slices.Clone(c.onChange)
	updateFns := slices.Clone(c.onUpdate)
	c.lmu.Unlock()

	if !change.Empty() {
		for _, fn := range changeFns {
			fn(change)
		}
	}
	if !update.Empty() {
		for _, fn := range updateFns {
			fn(update)
		}
	}
}

// LocalState returns the local JSON state, or "" if it was removed.
func (c *Channel) LocalState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[c.clientID]
}

// SetLocalState replaces the local state. An empty string removes it.
func (c *Channel) SetLocalState(state string) error {
	if state != "" && !validObject(state) {
		return ErrInvalidState
	}
	c.mu.Lock()
	change, update := c.setLocalLocked(state)
	c.mu.Unlock()
	c.emit(change, update)
	return nil
}

// SetLocalStateField sets one gjson/sjson path in the local state,
// keeping every other field. It does nothing once the local state has
// been removed.
func (c *Channel) SetLocalStateField(path string, value any) error {
	c.mu.Lock()
	current, ok := c.states[c.clientID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	next, err := sjson.Set(current, path, value)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("set awareness field %s: %w", path, err)
	}
	change, update := c.setLocalLocked(next)
	c.mu.Unlock()
	c.emit(change, update)
	return nil
}

func (c *Channel) setLocalLocked(state string) (Change, Change) {
	id := c.clientID
	next := uint32(0)
	if m, ok := c.meta[id]; ok {
		next = m.clock + 1
	}
	prev, existed := c.states[id]
	if state == "" {
		delete(c.states, id)
	} else {
		c.states[id] = state
	}
	c.meta[id] = meta{clock: next, lastUpdated: c.clk.Now()}

	change := Change{Origin: OriginLocal}
	switch {
	case state == "" && existed:
		change.Removed = []uint32{id}
	case state != "" && !existed:
		change.Added = []uint32{id}
	case state != "" && prev != state:
		change.Updated = []uint32{id}
	}
	update := Change{Origin: OriginLocal, Added: change.Added, Removed: change.Removed, Updated: []uint32{id}}
	if state == "" || !existed {
		update.Updated = nil
	}
	return change, update
}

// States returns a copy of every known state keyed by client.
func (c *Channel) States() map[uint32]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint32]string, len(c.states))
	for k, v := range c.states {
		out[k] = v
	}
	return out
}

// Get reads path from client's state.
func (c *Channel) Get(client uint32, path string) gjson.Result {
	c.mu.Lock()
	state, ok := c.states[client]
	c.mu.Unlock()
	if !ok {
		return gjson.Result{}
	}
	return gjson.Get(state, path)
}

type entry struct {
	Client uint32 `cbor:"c"`
	Clock  uint32 `cbor:"k"`
	State  string `cbor:"s"`
}

type update struct {
	Entries []entry `cbor:"e"`
}

// EncodeUpdate serializes the states of clients. Clients without a
// state are encoded as removals.
func (c *Channel) EncodeUpdate(clients []uint32) ([]byte, error) {
	c.mu.Lock()
	u := update{Entries: make([]entry, 0, len(clients))}
	for _, id := range clients {
		state, ok := c.states[id]
		if !ok {
			state = "null"
		}
		u.Entries = append(u.Entries, entry{Client: id, Clock: c.meta[id].clock, State: state})
	}
	c.mu.Unlock()
	return codec.Marshal(u)
}

// ApplyUpdate merges an update produced by a peer's EncodeUpdate.
func (c *Channel) ApplyUpdate(data []byte, origin string) error {
	var u update
	if err := codec.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decode awareness update: %w", err)
	}

	c.mu.Lock()
	now := c.clk.Now()
	change := Change{Origin: origin}
	upd := Change{Origin: origin}
	for _, e := range u.Entries {
		state := e.State
		if state == "null" {
			state = ""
		} else if !validObject(state) {
			c.logger.Debug("dropping invalid awareness state", "client", e.Client)
			continue
		}

		m, known := c.meta[e.Client]
		prev, existed := c.states[e.Client]
		if known && !(m.clock < e.Clock || (m.clock == e.Clock && state == "" && existed)) {
			continue
		}

		clk := e.Clock
		if state == "" {
			if e.Client == c.clientID && existed {
				// A peer timed us out; stay present and announce it.
				clk = e.Clock + 1
				c.meta[e.Client] = meta{clock: clk, lastUpdated: now}
				upd.Updated = append(upd.Updated, e.Client)
				continue
			}
			delete(c.states, e.Client)
		} else {
			c.states[e.Client] = state
		}
		c.meta[e.Client] = meta{clock: clk, lastUpdated: now}

		switch {
		case !existed && state != "":
			change.Added = append(change.Added, e.Client)
			upd.Added = append(upd.Added, e.Client)
		case existed && state == "":
			change.Removed = append(change.Removed, e.Client)
			upd.Removed = append(upd.Removed, e.Client)
		case state != "":
			if prev != state {
				change.Updated = append(change.Updated, e.Client)
			}
			upd.Updated = append(upd.Updated, e.Client)
		}
	}
	c.mu.Unlock()

	c.emit(change, upd)
	return nil
}

// RemoveStates drops the given remote clients, as when the transport
// reports that peers left. The local client is never removed this way.
func (c *Channel) RemoveStates(clients []uint32, origin string) {
	c.mu.Lock()
	change := Change{Origin: origin}
	for _, id := range clients {
		if id == c.clientID {
			continue
		}
		if _, ok := c.states[id]; !ok {
			continue
		}
		delete(c.states, id)
		change.Removed = append(change.Removed, id)
	}
	c.mu.Unlock()
	c.emit(change, change)
}

// Renew re-announces the local state under a new clock so that peers
// which dropped it accept it again.
func (c *Channel) Renew() {
	c.mu.Lock()
	state, ok := c.states[c.clientID]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	change, update := c.setLocalLocked(state)
	c.mu.Unlock()
	c.emit(change, update)
}

// Sweep re-announces a stale local state and drops remote states that
// have not been refreshed within the timeout.
func (c *Channel) Sweep() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	now := c.clk.Now()

	var localChange, localUpdate Change
	renewed := false
	if state, ok := c.states[c.clientID]; ok && now.Sub(c.meta[c.clientID].lastUpdated) >= c.renew {
		localChange, localUpdate = c.setLocalLocked(state)
		renewed = true
	}

	timedOut := Change{Origin: OriginTimeout}
	for id, m := range c.meta {
		if id == c.clientID {
			continue
		}
		if _, ok := c.states[id]; ok && now.Sub(m.lastUpdated) >= c.timeout {
			delete(c.states, id)
			timedOut.Removed = append(timedOut.Removed, id)
		}
	}
	sort.Slice(timedOut.Removed, func(i, j int) bool { return timedOut.Removed[i] < timedOut.Removed[j] })
	c.mu.Unlock()

	if renewed {
		c.emit(localChange, localUpdate)
	}
	if len(timedOut.Removed) > 0 {
		c.logger.Debug("awareness states timed out", "clients", timedOut.Removed)
		c.emit(timedOut, timedOut)
	}
}

// Start runs Sweep periodically until Close.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.sweepTimer != nil {
		return
	}
	c.scheduleLocked()
}

func (c *Channel) scheduleLocked() {
	interval := max(c.timeout/10, time.Millisecond)
	c.sweepTimer = c.clk.AfterFunc(interval, func() {
		c.Sweep()
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.closed {
			c.scheduleLocked()
		}
	})
}

// Close stops the sweep timer and removes the local state, emitting the
// removal so it can be broadcast. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.sweepTimer.Stop()
	c.sweepTimer = nil
	var change, upd Change
	if _, ok := c.states[c.clientID]; ok {
		change, upd = c.setLocalLocked("")
	}
	c.mu.Unlock()
	c.emit(change, upd)
}

func validObject(s string) bool {
	return gjson.Valid(s) && gjson.Parse(s).IsObject()
}
