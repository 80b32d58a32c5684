// Package binding connects a replicated document to a live text surface.
//
// Local surface edits become document operations; merges from anywhere
// else become surface edits, with the caret and selection rebased by
// the surface. While bound, the binding holds the surface's content
// claim, so full-content writes through SetValue are suppressed and the
// replica is the only source of content.
package binding

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dshills/katalyst/internal/crdt"
	"github.com/dshills/katalyst/internal/surface"
	"github.com/dshills/katalyst/internal/text"
)

// ErrBindingConflict indicates an attempt to bind a surface that is
// already bound. Release the existing binding first.
var ErrBindingConflict = errors.New("surface already has a live binding")

// CursorPublisher receives the local cursor so it can be shared with
// peers. collab.Session satisfies it.
type CursorPublisher interface {
	SetCursor(fileID string, pos *text.Position) error
}

// Options configures Bind.
type Options struct {
	// File identifies the document in published cursors.
	File string

	// Cursor, if set, is told about every local cursor move.
	Cursor CursorPublisher

	Logger *slog.Logger
}

// Binding ties one document to one surface. It must be used from the
// surface's event loop.
type Binding struct {
	doc    *crdt.Document
	surf   *surface.Surface
	origin string
	file   string
	cursor CursorPublisher
	logger *slog.Logger
	unsubs []func()
	closed bool

	// Surface state at bind time, for Seed.
	initial       string
	initialCursor text.Position
}

// Bind binds doc to surf. The document content replaces the surface
// content, even when the document is still empty; Seed puts the
// surface's original content back once the caller knows the document
// is meant to start from it. Bind fails with ErrBindingConflict if
// surf is already bound.
func Bind(doc *crdt.Document, surf *surface.Surface, opts Options) (*Binding, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	b := &Binding{
		doc:    doc,
		surf:   surf,
		origin: "binding:" + uuid.NewString(),
		file:   opts.File,
		cursor: opts.Cursor,

		initial:       surf.Value(),
		initialCursor: surf.Cursor(),
	}
	b.logger = opts.Logger.With("file", opts.File)

	if err := surf.Claim(b.origin); err != nil {
		if errors.Is(err, surface.ErrClaimed) {
			return nil, fmt.Errorf("%w: %v", ErrBindingConflict, err)
		}
		return nil, err
	}

	if err := surf.Replace(b.origin, doc.String()); err != nil {
		surf.Release(b.origin)
		return nil, fmt.Errorf("load document: %w", err)
	}

	b.unsubs = append(b.unsubs,
		surf.OnContentChange(b.onSurfaceChange),
		surf.OnCursorChange(b.onCursorChange),
		doc.Observe(b.onDocumentChange),
	)
	b.publishCursor()
	b.logger.Debug("binding created", "origin", b.origin)
	return b, nil
}

// Seed fills an empty document with the content the surface had when
// it was bound and puts the cursor back where it was. It does nothing
// once the document has content, from peers or from local typing, and
// reports whether it seeded.
func (b *Binding) Seed() (bool, error) {
	if b.closed || b.initial == "" || b.doc.Len() > 0 {
		return false, nil
	}
	if _, err := b.doc.Insert(0, b.initial, b.origin); err != nil {
		return false, fmt.Errorf("seed document: %w", err)
	}
	if err := b.surf.Replace(b.origin, b.initial); err != nil {
		return true, fmt.Errorf("load seeded document: %w", err)
	}
	b.surf.SetCursor(b.initialCursor, b.origin)
	b.logger.Debug("document seeded", "length", b.doc.Len())
	return true, nil
}

// Origin returns the change origin this binding uses on the surface and
// the document.
func (b *Binding) Origin() string { return b.origin }

// Document returns the bound document.
func (b *Binding) Document() *crdt.Document { return b.doc }

// Surface returns the bound surface.
func (b *Binding) Surface() *surface.Surface { return b.surf }

// Release unbinds. The surface keeps its content and accepts SetValue
// again. Safe to call more than once.
func (b *Binding) Release() {
	if b.closed {
		return
	}
	b.closed = true
	for _, off := range b.unsubs {
		off()
	}
	b.unsubs = nil
	b.surf.Release(b.origin)
	if b.cursor != nil {
		if err := b.cursor.SetCursor(b.file, nil); err != nil {
			b.logger.Debug("clear shared cursor", "error", err)
		}
	}
	b.logger.Debug("binding released", "origin", b.origin)
}

func (b *Binding) onSurfaceChange(ch surface.ContentChange) {
	if ch.Origin == b.origin {
		return
	}
	for _, e := range ch.Changes {
		if e.IsNoOp() {
			continue
		}
		if _, err := b.doc.ApplyEdit(e, b.origin); err != nil {
			// The replica is authoritative; pull the surface back to it.
			b.logger.Warn("local edit rejected by document", "edit", e.String(), "error", err)
			b.resync()
			return
		}
	}
}

func (b *Binding) onDocumentChange(ev crdt.Event) {
	if ev.Origin == b.origin || len(ev.Edits) == 0 {
		return
	}
	if err := b.surf.ApplyEdits(ev.Edits, b.origin); err != nil {
		b.logger.Warn("document change did not fit surface", "error", err)
		b.resync()
	}
}

func (b *Binding) resync() {
	if err := b.surf.Replace(b.origin, b.doc.String()); err != nil {
		b.logger.Error("resync surface", "error", err)
	}
}

func (b *Binding) onCursorChange(surface.CursorChange) {
	b.publishCursor()
}

func (b *Binding) publishCursor() {
	if b.cursor == nil {
		return
	}
	pos := b.surf.Cursor()
	if err := b.cursor.SetCursor(b.file, &pos); err != nil {
		b.logger.Debug("publish cursor", "error", err)
	}
}
