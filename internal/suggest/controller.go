package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dshills/katalyst/internal/ai"
	"github.com/dshills/katalyst/internal/analysis"
	"github.com/dshills/katalyst/internal/clock"
	"github.com/dshills/katalyst/internal/eventloop"
	"github.com/dshills/katalyst/internal/surface"
	"github.com/dshills/katalyst/internal/text"
)

// Config wires a Controller to its collaborators.
type Config struct {
	Surface  *surface.Surface
	Service  ai.CompletionService
	Analyzer analysis.Analyzer
	Loop     eventloop.Loop
	Clock    clock.Clock
	Logger   *slog.Logger
	Options  Options
}

// request is an in-flight completion.
type request struct {
	seq    uint64
	anchor text.Position
	offset int
	kind   string
	stale  bool
}

// Controller owns the suggestion lifecycle of one surface. Apart from
// the completion call itself, everything runs on the loop; methods must
// be called from it.
type Controller struct {
	surf     *surface.Surface
	svc      ai.CompletionService
	analyzer analysis.Analyzer
	loop     eventloop.Loop
	clk      clock.Clock
	logger   *slog.Logger
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	state   State
	pending *request
	active  *Suggestion
	seq     uint64

	accepting     bool
	acceptOrigin  string
	acceptedText  string
	cooldownUntil time.Time

	// A timer's callback only triggers while its generation is
	// current; Stop cannot recall a callback already posted.
	idleTimer *clock.Timer
	fastTimer *clock.Timer
	idleGen   uint64
	fastGen   uint64

	listeners []func(State)
	unsubs    []func()
	closed    bool
}

// New creates a controller attached to cfg.Surface.
func New(cfg Config) (*Controller, error) {
	if cfg.Surface == nil || cfg.Service == nil || cfg.Loop == nil {
		return nil, fmt.Errorf("suggest: surface, service and loop are required")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = analysis.ContextAnalyzer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		surf:     cfg.Surface,
		svc:      cfg.Service,
		analyzer: cfg.Analyzer,
		loop:     cfg.Loop,
		clk:      cfg.Clock,
		logger:   cfg.Logger,
		opts:     cfg.Options,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.unsubs = append(c.unsubs,
		c.surf.OnContentChange(c.onContentChange),
		c.surf.OnCursorChange(c.onCursorChange),
	)
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Active returns the previewed suggestion, if any.
func (c *Controller) Active() (Suggestion, bool) {
	if c.active == nil {
		return Suggestion{}, false
	}
	return *c.active, true
}

// Options returns the current tunables.
func (c *Controller) Options() Options { return c.opts }

// SetOptions replaces the tunables. Timers already armed keep their
// delay.
func (c *Controller) SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	c.opts = opts
	return nil
}

// OnStateChange registers fn to be called with every state entered,
// including the transient Accepted, Rejected and Stale.
func (c *Controller) OnStateChange(fn func(State)) {
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) enter(s State) {
	if s == c.state && s == StateIdle {
		return
	}
	c.state = s
	for _, fn := range c.listeners {
		fn(s)
	}
}

// passThrough reports a transient state and settles in Idle.
func (c *Controller) passThrough(s State) {
	c.enter(s)
	c.enter(StateIdle)
}

func (c *Controller) inCooldown() bool {
	return c.clk.Now().Before(c.cooldownUntil)
}

// Trigger requests a suggestion of the given kind at the cursor. It
// returns ErrBusy unless the controller is Idle.
func (c *Controller) Trigger(kind string) error {
	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return ErrBusy
	}
	if kind == "" {
		kind = c.opts.SuggestionType
	}
	c.stopTimers()

	c.seq++
	content := c.surf.Value()
	req := &request{
		seq:    c.seq,
		anchor: c.surf.Cursor(),
		offset: c.surf.CursorOffset(),
		kind:   kind,
	}
	ctx := c.analyzer.Analyze(content, req.anchor, c.opts.FileName)
	prompt := analysis.BuildPrompt(ctx, kind)

	c.pending = req
	c.enter(StatePending)
	c.logger.Debug("requesting suggestion", "kind", kind, "anchor", req.anchor.String(), "language", ctx.Language)

	timeout := c.opts.RequestTimeout
	go func() {
		rctx, cancel := context.WithTimeout(c.ctx, timeout)
		out, err := c.svc.Generate(rctx, prompt)
		cancel()
		c.loop.Post(func() { c.complete(req.seq, out, err) })
	}()
	return nil
}

func (c *Controller) complete(seq uint64, out string, err error) {
	if c.closed || c.pending == nil || c.pending.seq != seq {
		return
	}
	req := c.pending
	c.pending = nil

	if err != nil {
		c.logger.Debug("suggestion unavailable", "error", err)
		c.enter(StateIdle)
		return
	}
	out = ai.ExtractCode(out)
	if out == "" {
		c.enter(StateIdle)
		return
	}
	cursor := c.surf.Cursor()
	if req.stale || !cursor.WithinColumns(req.anchor, c.opts.MatchTolerance) ||
		text.ClampPosition(c.surf.Value(), req.anchor) != req.anchor {
		c.logger.Debug("discarding suggestion", "error", ErrStale, "anchor", req.anchor.String(), "cursor", cursor.String())
		c.passThrough(StateStale)
		return
	}

	c.active = &Suggestion{
		ID:        uuid.NewString(),
		Text:      out,
		Anchor:    req.anchor,
		CreatedAt: c.clk.Now(),
	}
	c.enter(StatePreviewing)
	c.syncOverlay(cursor)
}

// syncOverlay shows the preview while the cursor is within the match
// window and hides it otherwise.
func (c *Controller) syncOverlay(cursor text.Position) {
	if c.active == nil {
		c.surf.HideOverlay()
		return
	}
	if cursor.WithinColumns(c.active.Anchor, c.opts.MatchTolerance) {
		c.surf.ShowOverlay(surface.Overlay{ID: c.active.ID, Text: c.active.Text, Anchor: c.active.Anchor})
	} else {
		c.surf.HideOverlay()
	}
}

func (c *Controller) clear() {
	c.active = nil
	c.surf.HideOverlay()
}

// Accept inserts the previewed suggestion at its anchor as one edit and
// moves the cursor to the end of the inserted text.
func (c *Controller) Accept() error {
	if c.closed {
		return ErrClosed
	}
	if c.accepting {
		return ErrAcceptInFlight
	}
	if c.state != StatePreviewing || c.active == nil {
		return ErrNotPreviewing
	}
	s := *c.active
	if !c.surf.Cursor().WithinColumns(s.Anchor, c.opts.AcceptTolerance) {
		return ErrNotAtAnchor
	}
	content := c.surf.Value()
	if text.ClampPosition(content, s.Anchor) != s.Anchor {
		c.clear()
		c.passThrough(StateStale)
		return ErrStale
	}

	c.accepting = true
	defer func() { c.accepting = false }()
	c.acceptOrigin = "suggest:" + s.ID

	offset := text.PositionToOffset(content, s.Anchor)
	if err := c.surf.ApplyEdits([]text.Edit{text.NewInsert(offset, s.Text)}, c.acceptOrigin); err != nil {
		return fmt.Errorf("accept suggestion: %w", err)
	}
	c.surf.SetCursor(s.End(), c.acceptOrigin)

	c.acceptedText = s.Text
	c.cooldownUntil = c.clk.Now().Add(c.opts.Cooldown)
	c.stopTimers()
	c.clear()
	c.passThrough(StateAccepted)
	c.logger.Debug("suggestion accepted", "id", s.ID, "anchor", s.Anchor.String())
	return nil
}

// Reject discards the previewed suggestion.
func (c *Controller) Reject() error {
	if c.closed {
		return ErrClosed
	}
	if c.state != StatePreviewing {
		return ErrNotPreviewing
	}
	c.clear()
	c.passThrough(StateRejected)
	return nil
}

// HandleTab accepts the suggestion when it is insertable at the cursor
// and reports whether it did. When it returns false the host should
// insert a normal tab.
func (c *Controller) HandleTab() bool {
	if c.closed || c.accepting || c.inCooldown() || c.active == nil {
		return false
	}
	if !c.surf.Cursor().WithinColumns(c.active.Anchor, c.opts.MatchTolerance) {
		return false
	}
	return c.Accept() == nil
}

// Escape rejects a previewed suggestion or abandons a pending request.
// It reports whether there was anything to cancel.
func (c *Controller) Escape() bool {
	switch c.state {
	case StatePreviewing:
		return c.Reject() == nil
	case StatePending:
		c.pending = nil
		c.passThrough(StateRejected)
		return true
	default:
		return false
	}
}

// Close detaches from the surface, stops timers, and abandons any
// request. Safe to call more than once.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.stopTimers()
	c.cancel()
	for _, off := range c.unsubs {
		off()
	}
	c.unsubs = nil
	c.pending = nil
	c.clear()
	c.enter(StateIdle)
}

func (c *Controller) isAcceptOrigin(origin string) bool {
	return c.acceptOrigin != "" && origin == c.acceptOrigin
}

func (c *Controller) onContentChange(ch surface.ContentChange) {
	if c.closed || c.accepting || c.isAcceptOrigin(ch.Origin) {
		return
	}
	if c.inCooldown() && ch.InsertedText() == c.acceptedText {
		// Our own insert coming back through another path.
		return
	}

	switch c.state {
	case StatePreviewing:
		c.clear()
		c.passThrough(StateStale)
	case StatePending:
		// Local typing at or after the anchor keeps the request alive;
		// the cursor check on arrival decides. Anything before it, or a
		// peer's edit at it, changes the text the request was made for.
		offset := c.pending.offset
		for _, e := range ch.Changes {
			if e.Range.Start < offset || (!ch.IsLocal() && e.Range.Start == offset) {
				c.pending.stale = true
				break
			}
			offset = text.TransformOffsetSticky(offset, e, true)
		}
	}

	c.stopFast()
	if c.state != StateIdle || !ch.IsLocal() || c.inCooldown() {
		return
	}
	c.armIdle()
	if c.isHighSignal(ch) {
		c.stopFast()
		gen := c.fastGen
		c.fastTimer = c.clk.AfterFunc(c.opts.FastDelay, func() {
			c.loop.Post(func() { c.fire(&c.fastGen, gen) })
		})
	}
}

func (c *Controller) isHighSignal(ch surface.ContentChange) bool {
	if len(ch.Changes) != 1 {
		return false
	}
	s := ch.Changes[0].NewText
	if utf8.RuneCountInString(s) != 1 {
		return false
	}
	return strings.Contains(c.opts.HighSignal, s)
}

func (c *Controller) onCursorChange(ch surface.CursorChange) {
	if c.closed || c.accepting || c.isAcceptOrigin(ch.Origin) {
		return
	}

	if c.state == StatePreviewing && c.active != nil {
		if !ch.Position.WithinColumns(c.active.Anchor, c.opts.DriftTolerance) {
			c.clear()
			c.passThrough(StateRejected)
		} else {
			c.syncOverlay(ch.Position)
		}
	}

	if ch.Origin != surface.OriginLocal {
		return
	}
	if c.state == StateIdle && !c.inCooldown() {
		c.armIdle()
	}
}

// armIdle restarts the idle timer.
func (c *Controller) armIdle() {
	c.stopIdle()
	gen := c.idleGen
	c.idleTimer = c.clk.AfterFunc(c.opts.IdleDelay, func() {
		c.loop.Post(func() { c.fire(&c.idleGen, gen) })
	})
}

// fire runs an automatic trigger for a timer of generation gen, unless
// the timer has been stopped or re-armed since.
func (c *Controller) fire(current *uint64, gen uint64) {
	if *current != gen {
		return
	}
	c.autoTrigger()
}

func (c *Controller) autoTrigger() {
	if c.closed || c.state != StateIdle || c.inCooldown() {
		return
	}
	if err := c.Trigger(c.opts.SuggestionType); err != nil && !errors.Is(err, ErrBusy) {
		c.logger.Debug("automatic trigger failed", "error", err)
	}
}

func (c *Controller) stopTimers() {
	c.stopIdle()
	c.stopFast()
}

func (c *Controller) stopIdle() {
	c.idleGen++
	c.idleTimer.Stop()
	c.idleTimer = nil
}

func (c *Controller) stopFast() {
	c.fastGen++
	c.fastTimer.Stop()
	c.fastTimer = nil
}

// Pending reports whether a request is in flight.
func (c *Controller) Pending() bool { return c.pending != nil }
