package collab

import (
	"math/rand/v2"
	"path"
	"strings"
)

// Defaults shown for participants whose awareness state lacks a field.
const (
	DefaultName  = "Anonymous"
	DefaultColor = "#888888"
)

// Palette is the set of colors assigned to participants.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
	"#F8B500", "#6C5CE7", "#00B894", "#FD79A8",
}

var (
	adjectives = []string{"Happy", "Swift", "Clever", "Bright", "Bold", "Quick"}
	nouns      = []string{"Coder", "Dev", "Hacker", "Builder", "Maker", "Creator"}
)

// Identity is how a participant appears to others.
type Identity struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// RandomIdentity returns an "<Adjective> <Noun>" name and a palette color.
func RandomIdentity() Identity {
	return Identity{
		Name:  adjectives[rand.IntN(len(adjectives))] + " " + nouns[rand.IntN(len(nouns))],
		Color: Palette[rand.IntN(len(Palette))],
	}
}

// withRandomDefaults fills empty fields with random values.
func (id Identity) withRandomDefaults() Identity {
	r := RandomIdentity()
	if id.Name == "" {
		id.Name = r.Name
	}
	if id.Color == "" {
		id.Color = r.Color
	}
	return id
}

// FileID derives the document key for a file from its path. The key is
// the cleaned, slash-separated path including the extension, so the
// same file opened from different views shares one document.
func FileID(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
