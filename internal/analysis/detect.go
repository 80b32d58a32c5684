package analysis

import (
	"path/filepath"
	"regexp"
	"strings"
)

var languageByExt = map[string]string{
	".ts":   "TypeScript",
	".tsx":  "TypeScript",
	".js":   "JavaScript",
	".jsx":  "JavaScript",
	".py":   "Python",
	".java": "Java",
	".go":   "Go",
	".rs":   "Rust",
}

var typeAnnotation = regexp.MustCompile(`:\s*\w+`)

// DetectLanguage names the language of content. The file extension
// wins when known; otherwise keywords decide, defaulting to JavaScript.
func DetectLanguage(content, fileName string) string {
	if fileName != "" {
		if lang, ok := languageByExt[strings.ToLower(filepath.Ext(fileName))]; ok {
			return lang
		}
	}
	switch {
	case strings.Contains(content, "interface ") || typeAnnotation.MatchString(content):
		return "TypeScript"
	case strings.Contains(content, "def ") || strings.Contains(content, "import "):
		return "Python"
	case strings.Contains(content, "func ") || strings.Contains(content, "package "):
		return "Go"
	default:
		return "JavaScript"
	}
}

// DetectFramework guesses the UI framework from imports and idioms.
func DetectFramework(content string) string {
	switch {
	case strings.Contains(content, "import React") || strings.Contains(content, "useState"):
		return "React"
	case strings.Contains(content, "import Vue"):
		return "Vue"
	case strings.Contains(content, "@Component"):
		return "Angular"
	case strings.Contains(content, "getServerSideProps"):
		return "Next.js"
	default:
		return "None"
	}
}

var (
	functionStart = regexp.MustCompile(`^(function|const\s+\w+\s*=|let\s+\w+\s*=|def\s)`)
	classStart    = regexp.MustCompile(`^(class|interface)\s`)
)

// scanUp walks upward from the line above line until start matches or
// a closing brace ends the enclosing block.
func scanUp(lines []string, line int, start *regexp.Regexp) bool {
	for i := min(line, len(lines)) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if start.MatchString(l) {
			return true
		}
		if strings.Contains(l, "}") {
			return false
		}
	}
	return false
}

func inFunction(lines []string, line int) bool { return scanUp(lines, line, functionStart) }

func inClass(lines []string, line int) bool { return scanUp(lines, line, classStart) }

func afterComment(line string, column int) bool {
	before := sliceTo(line, column)
	return strings.Contains(before, "//") || strings.Contains(before, "#")
}

var incompleteRules = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"conditional", regexp.MustCompile(`^(if|while|for)\s*\($`)},
	{"function", regexp.MustCompile(`^(function|def)\s*$`)},
	{"object", regexp.MustCompile(`\{\s*$`)},
	{"array", regexp.MustCompile(`\[\s*$`)},
	{"assignment", regexp.MustCompile(`=\s*$`)},
	{"method-call", regexp.MustCompile(`\.\s*$`)},
}

func incompletePatterns(line string, column int) []string {
	before := strings.TrimSpace(sliceTo(line, column))
	var tags []string
	for _, r := range incompleteRules {
		if r.re.MatchString(before) {
			tags = append(tags, r.tag)
		}
	}
	return tags
}
