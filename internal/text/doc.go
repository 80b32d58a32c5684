// Package text defines the coordinate and edit types shared by the
// surface, the replica document, and the suggestion controller.
//
// Columns and offsets are measured in UTF-16 code units, matching the
// granularity of browser-hosted editor surfaces. Offsets never split a
// surrogate pair: conversions clamp to the nearest rune boundary.
//
// Position types:
//
//   - int offset: code-unit index into the whole buffer
//   - Position: 0-indexed line and UTF-16 column
//
// Edits are expressed as a Range of offsets plus replacement text, the
// same shape used for local keystrokes, remote merges, and accepted
// suggestions.
package text
