package text

// TransformOffset updates an offset after an edit.
//
// Transformation rules:
//   - If the edit ends at or before offset: shift by the edit's delta
//   - If the edit starts at or after offset: unchanged
//   - If the edit spans offset: clamp to the end of the new text
//
// An insertion exactly at offset therefore pushes offset right, which
// keeps a caret after text inserted in front of it.
func TransformOffset(offset int, edit Edit) int {
	if edit.Range.End <= offset {
		return offset + edit.Delta()
	}
	if edit.Range.Start >= offset {
		return offset
	}
	return edit.Range.Start + Len(edit.NewText)
}

// TransformOffsetSticky is like TransformOffset but lets an insertion
// exactly at offset leave it in place when sticky is true. Selection
// anchors are sticky; carets are not.
func TransformOffsetSticky(offset int, edit Edit, sticky bool) int {
	if sticky && edit.Range.IsEmpty() && edit.Range.Start == offset {
		return offset
	}
	return TransformOffset(offset, edit)
}

// TransformOffsetMulti applies a sequence of edits, in the order they
// were applied to the text, to offset.
func TransformOffsetMulti(offset int, edits []Edit) int {
	for _, edit := range edits {
		offset = TransformOffset(offset, edit)
	}
	return offset
}

// AdjustForDeletion moves an offset inside a deleted range to its
// start and shifts offsets after it left.
func AdjustForDeletion(offset int, deleted Range) int {
	if offset <= deleted.Start {
		return offset
	}
	if offset < deleted.End {
		return deleted.Start
	}
	return offset - deleted.Len()
}
