package text

import "strings"

// runeWidth returns the number of UTF-16 code units needed for r.
func runeWidth(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// RuneWidth is the exported form of runeWidth, used by the replica to
// size its items.
func RuneWidth(r rune) int { return runeWidth(r) }

// Len counts UTF-16 code units in s.
func Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

// ByteIndex converts a UTF-16 offset into a byte index in s. Offsets
// past the end clamp to len(s); an offset inside a surrogate pair
// rounds up to the end of that rune.
func ByteIndex(s string, offset int) int {
	if offset <= 0 {
		return 0
	}
	units := 0
	for i, r := range s {
		if units >= offset {
			return i
		}
		units += runeWidth(r)
	}
	return len(s)
}

// Slice returns the text between UTF-16 offsets start and end.
func Slice(s string, start, end int) string {
	from := ByteIndex(s, start)
	to := ByteIndex(s, end)
	if to < from {
		return ""
	}
	return s[from:to]
}

// OffsetToPosition converts a UTF-16 offset into a Position. Offsets
// beyond the text clamp to its end.
func OffsetToPosition(s string, offset int) Position {
	if offset < 0 {
		offset = 0
	}
	var pos Position
	units := 0
	for _, r := range s {
		if units >= offset {
			break
		}
		units += runeWidth(r)
		if r == '\n' {
			pos.Line++
			pos.Column = 0
		} else {
			pos.Column += runeWidth(r)
		}
	}
	return pos
}

// PositionToOffset converts a Position into a UTF-16 offset. Lines past
// the end clamp to the end of the text; columns past the end of a line
// clamp to the line end.
func PositionToOffset(s string, p Position) int {
	if p.Line < 0 {
		return 0
	}
	units := 0
	line := 0
	rest := s
	for line < p.Line {
		idx := strings.IndexByte(rest, '\n')
		if idx < 0 {
			return units + Len(rest)
		}
		units += Len(rest[:idx]) + 1
		rest = rest[idx+1:]
		line++
	}
	lineText := rest
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		lineText = rest[:idx]
	}
	col := 0
	for _, r := range lineText {
		if col >= p.Column {
			break
		}
		col += runeWidth(r)
	}
	return units + col
}

// LineText returns line n of s without its newline, or "" if n is out
// of range.
func LineText(s string, n int) string {
	if n < 0 {
		return ""
	}
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			return ""
		}
		s = s[idx+1:]
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// LineCount returns the number of lines in s. An empty string has one
// line.
func LineCount(s string) int {
	return strings.Count(s, "\n") + 1
}

// ClampPosition returns p clamped to a valid location in s.
func ClampPosition(s string, p Position) Position {
	return OffsetToPosition(s, PositionToOffset(s, p))
}
