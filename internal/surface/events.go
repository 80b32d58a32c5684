package surface

import "github.com/dshills/katalyst/internal/text"

// Well-known change origins. Collaborators use their own origin strings
// (for example a binding identifier or an accept token) so listeners can
// tell their own writes from everyone else's.
const (
	// OriginLocal marks edits and cursor moves made by the user.
	OriginLocal = "local"

	// OriginSetValue marks a full-content write through SetValue.
	OriginSetValue = "set-value"

	// OriginRebase marks cursor movement caused by an edit elsewhere.
	OriginRebase = "rebase"
)

// ContentChange describes one batch of edits applied to the surface.
// Changes are in application order; each edit's offsets refer to the
// content as it was after the previous edit in the batch.
type ContentChange struct {
	Changes []text.Edit
	Origin  string
	Version uint64

	// Flush is true when the batch replaced the whole content.
	Flush bool
}

// IsLocal reports whether the change came from the user typing.
func (c ContentChange) IsLocal() bool { return c.Origin == OriginLocal }

// InsertedText returns the concatenated inserted text of all changes.
func (c ContentChange) InsertedText() string {
	if len(c.Changes) == 1 {
		return c.Changes[0].NewText
	}
	var s string
	for _, e := range c.Changes {
		s += e.NewText
	}
	return s
}

// CursorChange describes a caret movement.
type CursorChange struct {
	Position text.Position
	Previous text.Position
	Origin   string
}

// Overlay is a non-committed preview drawn at Anchor. It is never part
// of the content.
type Overlay struct {
	ID     string
	Text   string
	Anchor text.Position
}

type listenerSet[T any] struct {
	next  int
	funcs map[int]func(T)
	order []int
}

func (l *listenerSet[T]) add(fn func(T)) func() {
	if l.funcs == nil {
		l.funcs = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.funcs[id] = fn
	l.order = append(l.order, id)
	return func() {
		if _, ok := l.funcs[id]; !ok {
			return
		}
		delete(l.funcs, id)
		for i, o := range l.order {
			if o == id {
				l.order = append(l.order[:i:i], l.order[i+1:]...)
				break
			}
		}
	}
}

func (l *listenerSet[T]) emit(v T) {
	ids := append([]int(nil), l.order...)
	for _, id := range ids {
		if fn, ok := l.funcs[id]; ok {
			fn(v)
		}
	}
}
