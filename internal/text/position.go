package text

import "fmt"

// Position is a location in a text buffer. Both fields are 0-indexed;
// Column counts UTF-16 code units from the start of the line.
type Position struct {
	Line   int `json:"line" cbor:"l"`
	Column int `json:"column" cbor:"c"`
}

// Pos is shorthand for Position{Line: line, Column: column}.
func Pos(line, column int) Position {
	return Position{Line: line, Column: column}
}

// String returns a human-readable representation of the position.
func (p Position) String() string {
	return fmt.Sprintf("(%d:%d)", p.Line, p.Column)
}

// Compare returns -1 if p < other, 0 if p == other, 1 if p > other.
func (p Position) Compare(other Position) int {
	switch {
	case p.Line < other.Line:
		return -1
	case p.Line > other.Line:
		return 1
	case p.Column < other.Column:
		return -1
	case p.Column > other.Column:
		return 1
	}
	return 0
}

// Before returns true if p comes before other.
func (p Position) Before(other Position) bool {
	return p.Compare(other) < 0
}

// After returns true if p comes after other.
func (p Position) After(other Position) bool {
	return p.Compare(other) > 0
}

// WithinColumns reports whether p is on anchor's line with a column in
// [anchor.Column, anchor.Column+tolerance].
func (p Position) WithinColumns(anchor Position, tolerance int) bool {
	return p.Line == anchor.Line &&
		p.Column >= anchor.Column &&
		p.Column <= anchor.Column+tolerance
}

// EndOfInsert returns where a cursor lands after inserting s at p. A
// single-line insert advances the column by the inserted length; a
// multi-line insert ends on line p.Line+N-1 at the length of the last
// inserted line.
func EndOfInsert(p Position, s string) Position {
	lastBreak := -1
	lines := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines++
			lastBreak = i
		}
	}
	if lines == 0 {
		return Position{Line: p.Line, Column: p.Column + Len(s)}
	}
	return Position{Line: p.Line + lines, Column: Len(s[lastBreak+1:])}
}
