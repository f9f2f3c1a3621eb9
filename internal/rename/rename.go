// Package rename applies a user's text and file-name rules: delete-word
// removal, word replacements and an optional rename tag.
//
// Everything here is best-effort by contract: file operations that fail
// leave the original path in place and never propagate an error to the
// transfer engine.
package rename

import (
	"os"
	"path/filepath"
	"strings"
)

// Rules is the per-user rule set, assembled from the preference store.
type Rules struct {
	DeleteWords  []string
	Replacements map[string]string
	Tag          string
}

func (r Rules) empty() bool {
	return len(r.DeleteWords) == 0 && len(r.Replacements) == 0 && r.Tag == ""
}

// ApplyToText runs delete-words then replacements over free text
// (captions, text messages). Whitespace is re-normalized after word
// removal.
func ApplyToText(text string, r Rules) string {
	if text == "" || (len(r.DeleteWords) == 0 && len(r.Replacements) == 0) {
		return text
	}

	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if matchesAny(w, r.DeleteWords) {
			continue
		}
		out = append(out, w)
	}
	s := strings.Join(out, " ")

	for old, repl := range r.Replacements {
		s = strings.ReplaceAll(s, old, repl)
	}
	return strings.TrimSpace(s)
}

// ApplyToFile renames the file on disk according to the rules and returns
// the new path. On any failure (or when no rule changes the name) the
// original path is returned unchanged.
func ApplyToFile(path string, r Rules) string {
	if path == "" || r.empty() {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	for _, w := range r.DeleteWords {
		base = strings.ReplaceAll(base, w, "")
	}
	for old, repl := range r.Replacements {
		base = strings.ReplaceAll(base, old, repl)
	}
	base = collapseSpaces(base)
	if r.Tag != "" {
		base = strings.TrimSpace(base + " " + r.Tag)
	}
	if base == "" {
		base = "file"
	}

	newPath := filepath.Join(dir, base+ext)
	if newPath == path {
		return path
	}
	if err := os.Rename(path, newPath); err != nil {
		return path
	}
	return newPath
}

func matchesAny(word string, set []string) bool {
	for _, w := range set {
		if strings.EqualFold(word, w) {
			return true
		}
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
