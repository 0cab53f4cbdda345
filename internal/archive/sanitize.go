package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxFilenameRunes = 100

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// sanitizeFilename converts free text into a safe base filename, keeping
// Unicode characters. Empty or fully stripped input yields def.
func sanitizeFilename(text, def string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return def
	}

	s = unsafeChars.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "_")
	s = strings.Trim(s, ". ")
	if s == "" {
		return def
	}

	if runes := []rune(s); len(runes) > maxFilenameRunes {
		s = strings.TrimRight(string(runes[:maxFilenameRunes]), "_. ")
	}
	if s == "" {
		return def
	}
	return s
}

// resolveConflict returns path itself when nothing exists there, otherwise
// the first free variant with a _1, _2, ... suffix before the extension.
func resolveConflict(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
