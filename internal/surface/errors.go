package surface

import "errors"

var (
	// ErrOutOfRange indicates an edit whose range falls outside the content.
	ErrOutOfRange = errors.New("edit range out of bounds")

	// ErrSuppressed indicates a full-content write was dropped because a
	// content authority holds a claim on the surface.
	ErrSuppressed = errors.New("content write suppressed by authority")

	// ErrClaimed indicates the surface is already claimed by another owner.
	ErrClaimed = errors.New("surface already claimed")
)
