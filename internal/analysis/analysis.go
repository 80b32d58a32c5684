// Package analysis classifies the code around a cursor and builds the
// completion prompt from it. Everything here is pure and synchronous.
package analysis

import (
	"strings"

	"github.com/dshills/katalyst/internal/text"
)

// DefaultRadius is the number of lines of context kept on each side of
// the cursor line.
const DefaultRadius = 10

// Context describes the code around a cursor.
type Context struct {
	Language  string
	Framework string

	// Before holds up to Radius lines above the cursor line, After up to
	// Radius-1 lines below it. Current is the cursor line itself.
	Before  string
	Current string
	After   string

	Cursor text.Position

	InFunction   bool
	InClass      bool
	AfterComment bool

	// Incomplete lists the unfinished constructs right before the
	// cursor: conditional, function, object, array, assignment,
	// method-call.
	Incomplete []string
}

// Analyzer maps a buffer and cursor to a Context.
type Analyzer interface {
	Analyze(buffer string, cursor text.Position, fileName string) Context
}

// ContextAnalyzer is the pattern-based Analyzer.
type ContextAnalyzer struct {
	// Radius overrides DefaultRadius when positive.
	Radius int
}

// Analyze implements Analyzer.
func (a ContextAnalyzer) Analyze(buffer string, cursor text.Position, fileName string) Context {
	radius := a.Radius
	if radius <= 0 {
		radius = DefaultRadius
	}
	lines := strings.Split(buffer, "\n")
	line := cursor.Line
	current := ""
	if line >= 0 && line < len(lines) {
		current = lines[line]
	}

	start := max(0, line-radius)
	end := min(len(lines), line+radius)
	var before, after string
	if start < line && line <= len(lines) {
		before = strings.Join(lines[start:line], "\n")
	}
	if line+1 < end {
		after = strings.Join(lines[line+1:end], "\n")
	}

	return Context{
		Language:     DetectLanguage(buffer, fileName),
		Framework:    DetectFramework(buffer),
		Before:       before,
		Current:      current,
		After:        after,
		Cursor:       cursor,
		InFunction:   inFunction(lines, line),
		InClass:      inClass(lines, line),
		AfterComment: afterComment(current, cursor.Column),
		Incomplete:   incompletePatterns(current, cursor.Column),
	}
}

// CurrentBefore returns the cursor line up to the cursor.
func (c Context) CurrentBefore() string {
	return text.Slice(c.Current, 0, c.Cursor.Column)
}

// CurrentAfter returns the cursor line from the cursor on.
func (c Context) CurrentAfter() string {
	return text.Slice(c.Current, c.Cursor.Column, text.Len(c.Current))
}
