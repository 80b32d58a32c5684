package analysis

import (
	"fmt"
	"strings"

	"github.com/dshills/katalyst/internal/text"
)

// CursorMarker marks the cursor inside the prompt context.
const CursorMarker = "|CURSOR|"

// BuildPrompt renders the completion prompt for ctx. suggestionType
// names the kind of suggestion wanted, usually "completion".
func BuildPrompt(ctx Context, suggestionType string) string {
	incomplete := "None"
	if len(ctx.Incomplete) > 0 {
		incomplete = strings.Join(ctx.Incomplete, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert code completion assistant. Generate a %s suggestion.\n\n", suggestionType)
	fmt.Fprintf(&b, "Language: %s\n", ctx.Language)
	fmt.Fprintf(&b, "Framework: %s\n\n", ctx.Framework)
	b.WriteString("Context:\n")
	b.WriteString(ctx.Before)
	b.WriteString("\n")
	b.WriteString(ctx.CurrentBefore())
	b.WriteString(CursorMarker)
	b.WriteString(ctx.CurrentAfter())
	b.WriteString("\n")
	b.WriteString(ctx.After)
	b.WriteString("\n\nAnalysis:\n")
	fmt.Fprintf(&b, "- In Function: %t\n", ctx.InFunction)
	fmt.Fprintf(&b, "- In Class: %t\n", ctx.InClass)
	fmt.Fprintf(&b, "- After Comment: %t\n", ctx.AfterComment)
	fmt.Fprintf(&b, "- Incomplete Patterns: %s\n\n", incomplete)
	b.WriteString("Instructions:\n")
	b.WriteString("1. Provide only the code to insert at the cursor\n")
	b.WriteString("2. Maintain indentation and style\n")
	fmt.Fprintf(&b, "3. Follow %s best practices\n", ctx.Language)
	b.WriteString("4. Be contextually accurate\n\n")
	b.WriteString("Generate suggestion:")
	return b.String()
}

func sliceTo(line string, column int) string {
	return text.Slice(line, 0, min(column, text.Len(line)))
}
