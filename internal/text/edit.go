package text

import "fmt"

// Range is a half-open span [Start, End) of UTF-16 offsets.
type Range struct {
	Start int `json:"start" cbor:"s"`
	End   int `json:"end" cbor:"e"`
}

// Len returns the number of code units covered.
func (r Range) Len() int { return r.End - r.Start }

// IsEmpty returns true if the range covers nothing.
func (r Range) IsEmpty() bool { return r.Start == r.End }

// Contains reports whether offset lies strictly inside the range.
func (r Range) Contains(offset int) bool {
	return offset > r.Start && offset < r.End
}

// String returns a human-readable representation of the range.
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Edit replaces Range with NewText.
type Edit struct {
	Range   Range  `json:"range" cbor:"r"`
	NewText string `json:"text" cbor:"t"`
}

// NewInsert creates an Edit that inserts s at offset.
func NewInsert(offset int, s string) Edit {
	return Edit{Range: Range{Start: offset, End: offset}, NewText: s}
}

// NewDelete creates an Edit that deletes [start, end).
func NewDelete(start, end int) Edit {
	return Edit{Range: Range{Start: start, End: end}}
}

// NewReplace creates an Edit that replaces [start, end) with s.
func NewReplace(start, end int, s string) Edit {
	return Edit{Range: Range{Start: start, End: end}, NewText: s}
}

// String returns a human-readable representation of the edit.
func (e Edit) String() string {
	switch {
	case e.Range.IsEmpty():
		return fmt.Sprintf("Insert(%d, %q)", e.Range.Start, e.NewText)
	case e.NewText == "":
		return fmt.Sprintf("Delete%s", e.Range)
	default:
		return fmt.Sprintf("Replace%s with %q", e.Range, e.NewText)
	}
}

// IsInsert returns true if this is a pure insertion.
func (e Edit) IsInsert() bool { return e.Range.IsEmpty() && e.NewText != "" }

// IsDelete returns true if this is a pure deletion.
func (e Edit) IsDelete() bool { return !e.Range.IsEmpty() && e.NewText == "" }

// IsNoOp returns true if this edit does nothing.
func (e Edit) IsNoOp() bool { return e.Range.IsEmpty() && e.NewText == "" }

// Delta returns the change in buffer length caused by this edit.
func (e Edit) Delta() int { return Len(e.NewText) - e.Range.Len() }

// Apply returns s with the edit applied. Offsets are clamped to s.
func (e Edit) Apply(s string) string {
	start := ByteIndex(s, e.Range.Start)
	end := ByteIndex(s, e.Range.End)
	if end < start {
		end = start
	}
	return s[:start] + e.NewText + s[end:]
}
