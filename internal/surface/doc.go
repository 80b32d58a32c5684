// Package surface implements the live editable text surface that a
// user types into: content, caret, selection, a non-committed overlay,
// and change notifications.
//
// A Surface is owned by one event loop and is not safe for concurrent
// use. Listeners run synchronously inside the mutating call, after the
// surface state is fully updated, so a listener may safely read or
// mutate the surface again.
//
// Content authority: while a collaborator holds a claim (see Claim),
// full-content writes through SetValue are suppressed. Incremental
// edits through ApplyEdits always go through, because that is the path
// both local keystrokes and replica merges use.
package surface
