package suggest

import (
	"fmt"
	"time"
)

// Options holds the lifecycle tunables.
type Options struct {
	// MatchTolerance is how many columns past the anchor the cursor may
	// be for the preview to show and for a late response to be used.
	MatchTolerance int

	// AcceptTolerance is how far past the anchor accept still works.
	AcceptTolerance int

	// DriftTolerance is how far past the anchor the cursor may wander
	// before the suggestion is rejected.
	DriftTolerance int

	// IdleDelay is the debounce after a cursor move.
	IdleDelay time.Duration

	// FastDelay is the delay after typing a HighSignal character.
	FastDelay time.Duration

	// Cooldown follows an accept. Automatic requests and Tab accepts
	// are suppressed during it.
	Cooldown time.Duration

	// RequestTimeout bounds each completion request.
	RequestTimeout time.Duration

	// HighSignal lists the characters that take the fast path.
	HighSignal string

	// SuggestionType tags automatic requests in the prompt.
	SuggestionType string

	// FileName helps language detection.
	FileName string
}

// DefaultOptions returns the standard tunables.
func DefaultOptions() Options {
	return Options{
		MatchTolerance:  2,
		AcceptTolerance: 5,
		DriftTolerance:  10,
		IdleDelay:       300 * time.Millisecond,
		FastDelay:       100 * time.Millisecond,
		Cooldown:        time.Second,
		RequestTimeout:  12 * time.Second,
		HighSignal:      "{.=,(:;",
		SuggestionType:  "completion",
	}
}

// Validate checks that the tolerances nest and the delays are usable.
func (o Options) Validate() error {
	if o.MatchTolerance < 0 {
		return fmt.Errorf("match tolerance %d is negative", o.MatchTolerance)
	}
	if o.AcceptTolerance < o.MatchTolerance {
		return fmt.Errorf("accept tolerance %d is below match tolerance %d", o.AcceptTolerance, o.MatchTolerance)
	}
	if o.DriftTolerance < o.AcceptTolerance {
		return fmt.Errorf("drift tolerance %d is below accept tolerance %d", o.DriftTolerance, o.AcceptTolerance)
	}
	if o.IdleDelay <= 0 || o.FastDelay <= 0 {
		return fmt.Errorf("debounce delays must be positive")
	}
	if o.Cooldown < 0 || o.RequestTimeout <= 0 {
		return fmt.Errorf("cooldown must be non-negative and request timeout positive")
	}
	if o.SuggestionType == "" {
		return fmt.Errorf("suggestion type is empty")
	}
	return nil
}
