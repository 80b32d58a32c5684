package surface

import (
	"fmt"

	"github.com/dshills/katalyst/internal/text"
)

// Surface is an editable text surface.
type Surface struct {
	content string
	version uint64

	// Caret and selection anchor as UTF-16 offsets. No selection when equal.
	head   int
	anchor int

	overlay    Overlay
	hasOverlay bool

	owner string

	onContent listenerSet[ContentChange]
	onCursor  listenerSet[CursorChange]
	onOverlay listenerSet[*Overlay]
}

// New creates a surface holding content with the caret at offset 0.
func New(content string) *Surface {
	return &Surface{content: content}
}

// Value returns the current content.
func (s *Surface) Value() string { return s.content }

// Len returns the content length in UTF-16 code units.
func (s *Surface) Len() int { return text.Len(s.content) }

// Version increments on every content change.
func (s *Surface) Version() uint64 { return s.version }

// LineText returns line n without its newline.
func (s *Surface) LineText(n int) string { return text.LineText(s.content, n) }

// LineCount returns the number of lines.
func (s *Surface) LineCount() int { return text.LineCount(s.content) }

// Cursor returns the caret position.
func (s *Surface) Cursor() text.Position {
	return text.OffsetToPosition(s.content, s.head)
}

// CursorOffset returns the caret as a UTF-16 offset.
func (s *Surface) CursorOffset() int { return s.head }

// Selection returns the selection anchor and head. They are equal when
// nothing is selected.
func (s *Surface) Selection() (anchor, head text.Position) {
	return text.OffsetToPosition(s.content, s.anchor), text.OffsetToPosition(s.content, s.head)
}

// HasSelection returns true if a non-empty range is selected.
func (s *Surface) HasSelection() bool { return s.anchor != s.head }

// OnContentChange registers fn for content changes and returns a
// function that removes it.
func (s *Surface) OnContentChange(fn func(ContentChange)) func() {
	return s.onContent.add(fn)
}

// OnCursorChange registers fn for caret movements and returns a
// function that removes it.
func (s *Surface) OnCursorChange(fn func(CursorChange)) func() {
	return s.onCursor.add(fn)
}

// OnOverlayChange registers fn for overlay updates. fn receives nil
// when the overlay is hidden.
func (s *Surface) OnOverlayChange(fn func(*Overlay)) func() {
	return s.onOverlay.add(fn)
}

// SetCursor moves the caret and collapses the selection. The position
// is clamped to the content.
func (s *Surface) SetCursor(pos text.Position, origin string) {
	off := text.PositionToOffset(s.content, pos)
	s.moveTo(off, off, origin)
}

// SetSelection selects from anchor to head. The caret is at head.
func (s *Surface) SetSelection(anchor, head text.Position, origin string) {
	s.moveTo(
		text.PositionToOffset(s.content, anchor),
		text.PositionToOffset(s.content, head),
		origin,
	)
}

func (s *Surface) moveTo(anchor, head int, origin string) {
	prev := s.head
	s.anchor = anchor
	s.head = head
	if prev == head {
		return
	}
	s.onCursor.emit(CursorChange{
		Position: text.OffsetToPosition(s.content, head),
		Previous: text.OffsetToPosition(s.content, prev),
		Origin:   origin,
	})
}

// Type replaces the selection (or inserts at the caret) with str, as
// the user typing. The caret ends after the inserted text.
func (s *Surface) Type(str string) error {
	start, end := s.anchor, s.head
	if start > end {
		start, end = end, start
	}
	return s.ApplyEdits([]text.Edit{text.NewReplace(start, end, str)}, OriginLocal)
}

// Backspace deletes the selection, or the rune before the caret.
func (s *Surface) Backspace() error {
	start, end := s.anchor, s.head
	if start > end {
		start, end = end, start
	}
	if start == end {
		if start == 0 {
			return nil
		}
		before := text.Slice(s.content, 0, start)
		r := []rune(before)
		start -= text.RuneWidth(r[len(r)-1])
	}
	return s.ApplyEdits([]text.Edit{text.NewDelete(start, end)}, OriginLocal)
}

// ApplyEdits applies edits in order and rebases the caret and selection
// through each one. Listeners see one ContentChange for the batch and,
// if the caret moved, one CursorChange with origin OriginRebase, or
// with origin itself when origin is OriginLocal.
//
// The batch is validated up front; on error nothing is applied.
func (s *Surface) ApplyEdits(edits []text.Edit, origin string) error {
	if len(edits) == 0 {
		return nil
	}
	length := text.Len(s.content)
	for _, e := range edits {
		if e.Range.Start < 0 || e.Range.End < e.Range.Start || e.Range.End > length {
			return fmt.Errorf("%w: %s in length %d", ErrOutOfRange, e.Range, length)
		}
		length += e.Delta()
	}
	return s.apply(edits, origin, false)
}

// SetValue replaces the whole content. It returns ErrSuppressed while a
// content authority holds a claim.
func (s *Surface) SetValue(content string) error {
	if s.owner != "" {
		return ErrSuppressed
	}
	return s.replace(content, OriginSetValue)
}

// Replace replaces the whole content on behalf of owner. Unlike
// SetValue it is permitted while owner holds the claim.
func (s *Surface) Replace(owner, content string) error {
	if s.owner != "" && s.owner != owner {
		return ErrSuppressed
	}
	return s.replace(content, owner)
}

func (s *Surface) replace(content, origin string) error {
	edit := text.Diff(s.content, content)
	if edit.IsNoOp() {
		return nil
	}
	return s.apply([]text.Edit{edit}, origin, true)
}

func (s *Surface) apply(edits []text.Edit, origin string, flush bool) error {
	prevHead := text.OffsetToPosition(s.content, s.head)
	prevOffset := s.head

	for _, e := range edits {
		selecting := s.anchor != s.head
		s.content = e.Apply(s.content)
		s.head = text.TransformOffset(s.head, e)
		s.anchor = text.TransformOffsetSticky(s.anchor, e, selecting)
	}
	if origin == OriginLocal {
		// Typing over a selection leaves no selection behind.
		s.anchor = s.head
	}
	s.version++

	s.onContent.emit(ContentChange{
		Changes: edits,
		Origin:  origin,
		Version: s.version,
		Flush:   flush,
	})

	if s.head != prevOffset {
		cursorOrigin := OriginRebase
		if origin == OriginLocal {
			cursorOrigin = OriginLocal
		}
		s.onCursor.emit(CursorChange{
			Position: text.OffsetToPosition(s.content, s.head),
			Previous: prevHead,
			Origin:   cursorOrigin,
		})
	}
	return nil
}

// Claim makes owner the content authority. Claiming again with the same
// owner is a no-op; a different owner gets ErrClaimed.
func (s *Surface) Claim(owner string) error {
	if owner == "" {
		return fmt.Errorf("claim: empty owner")
	}
	if s.owner != "" && s.owner != owner {
		return fmt.Errorf("%w by %s", ErrClaimed, s.owner)
	}
	s.owner = owner
	return nil
}

// Release drops owner's claim. Releasing a claim held by someone else
// does nothing.
func (s *Surface) Release(owner string) {
	if s.owner == owner {
		s.owner = ""
	}
}

// Owner returns the current content authority, or "" if none.
func (s *Surface) Owner() string { return s.owner }

// ShowOverlay displays a preview. It replaces any current overlay.
func (s *Surface) ShowOverlay(o Overlay) {
	if s.hasOverlay && s.overlay == o {
		return
	}
	s.overlay = o
	s.hasOverlay = true
	cp := o
	s.onOverlay.emit(&cp)
}

// HideOverlay removes the preview, if any.
func (s *Surface) HideOverlay() {
	if !s.hasOverlay {
		return
	}
	s.overlay = Overlay{}
	s.hasOverlay = false
	s.onOverlay.emit(nil)
}

// Overlay returns the current preview.
func (s *Surface) Overlay() (Overlay, bool) {
	return s.overlay, s.hasOverlay
}
