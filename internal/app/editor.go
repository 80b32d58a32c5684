package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/dshills/katalyst/internal/ai"
	"github.com/dshills/katalyst/internal/analysis"
	"github.com/dshills/katalyst/internal/binding"
	"github.com/dshills/katalyst/internal/clock"
	"github.com/dshills/katalyst/internal/collab"
	"github.com/dshills/katalyst/internal/eventloop"
	"github.com/dshills/katalyst/internal/suggest"
	"github.com/dshills/katalyst/internal/surface"
	"github.com/dshills/katalyst/internal/text"
	"github.com/dshills/katalyst/internal/transport"
)

// EditorConfig configures NewEditor.
type EditorConfig struct {
	// Service produces inline suggestions. Required.
	Service ai.CompletionService

	Analyzer analysis.Analyzer

	// Transport enables SetCollaboration. Optional.
	Transport transport.Transport

	// Loop owns the surface. Nil starts a private serial loop that
	// Close stops.
	Loop eventloop.Loop

	Clock   clock.Clock
	Suggest suggest.Options

	Room             string
	Identity         collab.Identity
	AwarenessTimeout time.Duration
	AwarenessRenew   time.Duration

	Logger *slog.Logger
}

// Editor is one playground editor. Its methods may be called from any
// goroutine except the editor's own loop.
type Editor struct {
	cfg      EditorConfig
	loop     eventloop.Loop
	ownLoop  *eventloop.Serial
	logger   *slog.Logger
	suggestL *slog.Logger

	// Owned by the loop.
	file           string
	surf           *surface.Surface
	ctrl           *suggest.Controller
	session        *collab.Session
	bind           *binding.Binding
	participantFns []func([]collab.Participant)
	statusFns      []func(bool)
	closed         bool
}

// NewEditor creates an editor with no file open.
func NewEditor(cfg EditorConfig) (*Editor, error) {
	if cfg.Service == nil {
		return nil, NewOperationError("create", "editor", ErrNoService)
	}
	if cfg.Suggest == (suggest.Options{}) {
		cfg.Suggest = suggest.DefaultOptions()
	}
	if err := cfg.Suggest.Validate(); err != nil {
		return nil, NewOperationError("create", "editor", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Room == "" {
		cfg.Room = "playground"
	}

	logger := WithComponent(cfg.Logger, "editor")
	e := &Editor{
		cfg:      cfg,
		logger:   logger,
		suggestL: WithComponent(cfg.Logger, "suggest"),
	}
	if cfg.Loop == nil {
		e.ownLoop = eventloop.NewSerial(logger)
		e.loop = e.ownLoop
	} else {
		e.loop = cfg.Loop
	}
	return e, nil
}

// do runs fn on the loop. It reports ErrClosed when the editor or its
// loop is gone.
func (e *Editor) do(fn func() error) error {
	var err error
	if !e.loop.Do(func() {
		if e.closed {
			err = ErrClosed
			return
		}
		err = fn()
	}) {
		return ErrClosed
	}
	return err
}

// Open loads content as the file being edited. Any previously open
// file is dropped along with its suggestion state. While collaborating
// the file is bound to the shared document of the same name. The
// shared content wins; content seeds the document only if it is still
// empty once the peers in the room have shared their state.
func (e *Editor) Open(file, content string) error {
	return e.do(func() error {
		e.teardownFile()

		surf := surface.New(content)
		opts := e.cfg.Suggest
		opts.FileName = file
		ctrl, err := suggest.New(suggest.Config{
			Surface:  surf,
			Service:  e.cfg.Service,
			Analyzer: e.cfg.Analyzer,
			Loop:     e.loop,
			Clock:    e.cfg.Clock,
			Logger:   e.suggestL.With("file", file),
			Options:  opts,
		})
		if err != nil {
			return NewOperationError("open", file, err)
		}
		e.file, e.surf, e.ctrl = file, surf, ctrl

		if e.session != nil {
			if err := e.bindLocked(); err != nil {
				return NewOperationError("open", file, err)
			}
		}
		e.logger.Debug("file opened", "file", file, "length", surf.Len())
		return nil
	})
}

func (e *Editor) teardownFile() {
	if e.bind != nil {
		e.bind.Release()
		e.bind = nil
	}
	if e.ctrl != nil {
		e.ctrl.Close()
		e.ctrl = nil
	}
	e.surf = nil
	e.file = ""
}

func (e *Editor) bindLocked() error {
	fileID := collab.FileID(e.file)
	doc, err := e.session.Document(fileID)
	if err != nil {
		return err
	}
	b, err := binding.Bind(doc, e.surf, binding.Options{
		File:   fileID,
		Cursor: e.session,
		Logger: WithComponent(e.cfg.Logger, "binding"),
	})
	if err != nil {
		return err
	}
	e.bind = b
	e.session.OnSynced(fileID, func() {
		if e.closed || e.bind != b {
			return
		}
		if _, err := b.Seed(); err != nil {
			e.logger.Warn("seed shared document", "file", e.file, "error", err)
		}
	})
	return nil
}

func (e *Editor) active() error {
	if e.surf == nil {
		return ErrNoActiveDocument
	}
	return nil
}

// File returns the open file name.
func (e *Editor) File() string {
	var f string
	_ = e.do(func() error { f = e.file; return nil })
	return f
}

// Content returns the buffer text.
func (e *Editor) Content() string {
	var s string
	_ = e.do(func() error {
		if e.surf != nil {
			s = e.surf.Value()
		}
		return nil
	})
	return s
}

// SetContent replaces the buffer. While collaborating the shared
// document owns the content and the write is refused with
// surface.ErrSuppressed.
func (e *Editor) SetContent(content string) error {
	return e.do(func() error {
		if err := e.active(); err != nil {
			return err
		}
		return opErr("set content", e.file, e.surf.SetValue(content))
	})
}

// Type inserts s at the cursor as the user.
func (e *Editor) Type(s string) error {
	return e.do(func() error {
		if err := e.active(); err != nil {
			return err
		}
		return opErr("type", e.file, e.surf.Type(s))
	})
}

// Backspace deletes before the cursor as the user.
func (e *Editor) Backspace() error {
	return e.do(func() error {
		if err := e.active(); err != nil {
			return err
		}
		return opErr("backspace", e.file, e.surf.Backspace())
	})
}

// MoveCursor places the cursor at pos as the user.
func (e *Editor) MoveCursor(pos text.Position) error {
	return e.do(func() error {
		if err := e.active(); err != nil {
			return err
		}
		e.surf.SetCursor(pos, surface.OriginLocal)
		return nil
	})
}

// Cursor returns the cursor position.
func (e *Editor) Cursor() text.Position {
	var p text.Position
	_ = e.do(func() error {
		if e.surf != nil {
			p = e.surf.Cursor()
		}
		return nil
	})
	return p
}

// Overlay returns the ghost text currently shown, if any.
func (e *Editor) Overlay() (surface.Overlay, bool) {
	var (
		o  surface.Overlay
		ok bool
	)
	_ = e.do(func() error {
		if e.surf != nil {
			o, ok = e.surf.Overlay()
		}
		return nil
	})
	return o, ok
}

// SuggestionState returns the suggestion lifecycle state.
func (e *Editor) SuggestionState() suggest.State {
	st := suggest.StateIdle
	_ = e.do(func() error {
		if e.ctrl != nil {
			st = e.ctrl.State()
		}
		return nil
	})
	return st
}

// HandleTab accepts the previewed suggestion when it is insertable at
// the cursor, and types a tab otherwise. It reports whether a
// suggestion was accepted.
func (e *Editor) HandleTab() (bool, error) {
	var accepted bool
	err := e.do(func() error {
		if err := e.active(); err != nil {
			return err
		}
		if e.ctrl.HandleTab() {
			accepted = true
			return nil
		}
		return opErr("type", e.file, e.surf.Type("\t"))
	})
	return accepted, err
}

// Escape dismisses the preview or abandons an in-flight request. It
// reports whether there was anything to dismiss.
func (e *Editor) Escape() bool {
	var handled bool
	_ = e.do(func() error {
		if e.ctrl != nil {
			handled = e.ctrl.Escape()
		}
		return nil
	})
	return handled
}

// Trigger requests a suggestion of kind at the cursor immediately.
func (e *Editor) Trigger(kind string) error {
	return e.do(func() error {
		if err := e.active(); err != nil {
			return err
		}
		return e.ctrl.Trigger(kind)
	})
}

// SetSuggestOptions replaces the suggestion tunables for the open file
// and for files opened later.
func (e *Editor) SetSuggestOptions(opts suggest.Options) error {
	if err := opts.Validate(); err != nil {
		return NewOperationError("configure", "suggest", err)
	}
	return e.do(func() error {
		e.cfg.Suggest = opts
		if e.ctrl != nil {
			opts.FileName = e.file
			return e.ctrl.SetOptions(opts)
		}
		return nil
	})
}

// SetCollaboration joins (on) or leaves (off) the editor's room. While
// joined the open file is bound to the room's shared document.
func (e *Editor) SetCollaboration(ctx context.Context, on bool) error {
	if on && e.cfg.Transport == nil {
		return ErrCollaborationUnavailable
	}
	return e.do(func() error {
		if on == (e.session != nil) {
			return nil
		}
		if !on {
			return e.leaveLocked()
		}

		s, err := collab.Open(ctx, e.cfg.Room, collab.Options{
			Transport:        e.cfg.Transport,
			Loop:             e.loop,
			Clock:            e.cfg.Clock,
			Identity:         e.cfg.Identity,
			AwarenessTimeout: e.cfg.AwarenessTimeout,
			AwarenessRenew:   e.cfg.AwarenessRenew,
			Logger:           WithComponent(e.cfg.Logger, "collab"),
		})
		if err != nil {
			return NewOperationError("join", e.cfg.Room, err)
		}
		for _, fn := range e.participantFns {
			s.OnParticipants(fn)
		}
		for _, fn := range e.statusFns {
			s.OnStatus(fn)
		}
		e.session = s
		if e.surf != nil {
			if err := e.bindLocked(); err != nil {
				_ = e.leaveLocked()
				return NewOperationError("join", e.cfg.Room, err)
			}
		}
		e.logger.Info("collaboration enabled", "room", e.cfg.Room)
		return nil
	})
}

func (e *Editor) leaveLocked() error {
	if e.bind != nil {
		e.bind.Release()
		e.bind = nil
	}
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	e.logger.Info("collaboration disabled", "room", e.cfg.Room)
	return opErr("leave", e.cfg.Room, err)
}

// Collaborating reports whether the editor has joined its room.
func (e *Editor) Collaborating() bool {
	var on bool
	_ = e.do(func() error { on = e.session != nil; return nil })
	return on
}

// Connected reports whether the collaboration transport is up.
func (e *Editor) Connected() bool {
	var ok bool
	_ = e.do(func() error {
		ok = e.session != nil && e.session.Connected()
		return nil
	})
	return ok
}

// Participants returns the room roster, or nil when not collaborating.
func (e *Editor) Participants() []collab.Participant {
	var ps []collab.Participant
	_ = e.do(func() error {
		if e.session != nil {
			ps = e.session.Participants()
		}
		return nil
	})
	return ps
}

// SetIdentity changes the local user's shared name and color. Empty
// values leave the field unchanged.
func (e *Editor) SetIdentity(name, color string) error {
	return e.do(func() error {
		if name != "" {
			e.cfg.Identity.Name = name
		}
		if color != "" {
			e.cfg.Identity.Color = color
		}
		if e.session == nil {
			return nil
		}
		return opErr("update identity", e.cfg.Room, e.session.UpdateIdentity(name, color))
	})
}

// OnParticipants registers fn for roster changes in this and later
// sessions. fn runs on the editor's loop.
func (e *Editor) OnParticipants(fn func([]collab.Participant)) {
	_ = e.do(func() error {
		e.participantFns = append(e.participantFns, fn)
		if e.session != nil {
			e.session.OnParticipants(fn)
		}
		return nil
	})
}

// OnStatus registers fn for connection changes in this and later
// sessions. fn runs on the editor's loop.
func (e *Editor) OnStatus(fn func(connected bool)) {
	_ = e.do(func() error {
		e.statusFns = append(e.statusFns, fn)
		if e.session != nil {
			e.session.OnStatus(fn)
		}
		return nil
	})
}

// Close leaves the room, drops the open file, and stops the editor's
// own loop. Safe to call more than once.
func (e *Editor) Close() error {
	var err error
	e.loop.Do(func() {
		if e.closed {
			return
		}
		e.closed = true
		err = e.leaveLocked()
		e.teardownFile()
	})
	if e.ownLoop != nil {
		e.ownLoop.Close()
	}
	return err
}
