package text

import "unicode/utf8"

// Diff returns a single Edit that turns old into new, trimming the
// common prefix and suffix. Returns a no-op edit when the texts match.
// Boundaries always fall on rune boundaries.
func Diff(old, new string) Edit {
	if old == new {
		return Edit{}
	}

	prefix := 0
	for prefix < len(old) && prefix < len(new) {
		r1, n1 := utf8.DecodeRuneInString(old[prefix:])
		r2, n2 := utf8.DecodeRuneInString(new[prefix:])
		if r1 != r2 || n1 != n2 {
			break
		}
		prefix += n1
	}

	oldEnd, newEnd := len(old), len(new)
	for oldEnd > prefix && newEnd > prefix {
		r1, n1 := utf8.DecodeLastRuneInString(old[prefix:oldEnd])
		r2, n2 := utf8.DecodeLastRuneInString(new[prefix:newEnd])
		if r1 != r2 || n1 != n2 {
			break
		}
		oldEnd -= n1
		newEnd -= n2
	}

	start := Len(old[:prefix])
	return Edit{
		Range:   Range{Start: start, End: start + Len(old[prefix:oldEnd])},
		NewText: new[prefix:newEnd],
	}
}
