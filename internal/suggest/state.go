// Package suggest runs the inline AI suggestion lifecycle for one
// editor surface: request, preview, then accept or reject.
//
// A Controller moves through Idle, Pending and Previewing. Accepted,
// Rejected and Stale are reported to listeners as it passes through
// them on the way back to Idle. At most one suggestion is active per
// surface, and it is never part of the buffer until accepted.
package suggest

import (
	"errors"
	"fmt"
	"time"

	"github.com/dshills/katalyst/internal/text"
)

// State is a lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePending
	StatePreviewing
	StateAccepted
	StateRejected
	StateStale
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StatePreviewing:
		return "previewing"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateStale:
		return "stale"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Suggestion is a completion waiting to be accepted at Anchor.
type Suggestion struct {
	ID        string
	Text      string
	Anchor    text.Position
	CreatedAt time.Time
}

// End returns where the cursor lands after accepting.
func (s Suggestion) End() text.Position {
	return text.EndOfInsert(s.Anchor, s.Text)
}

var (
	// ErrBusy indicates a request while one is pending or previewing.
	ErrBusy = errors.New("suggestion already pending or previewing")

	// ErrNotPreviewing indicates accept or reject without a suggestion.
	ErrNotPreviewing = errors.New("no suggestion to act on")

	// ErrAcceptInFlight indicates a re-entrant accept.
	ErrAcceptInFlight = errors.New("accept already in progress")

	// ErrNotAtAnchor indicates the cursor is outside the accept window.
	// The suggestion is kept.
	ErrNotAtAnchor = errors.New("cursor not at suggestion anchor")

	// ErrStale indicates a suggestion that no longer fits the buffer.
	ErrStale = errors.New("suggestion is stale")

	// ErrClosed indicates use of a closed controller.
	ErrClosed = errors.New("controller closed")
)
