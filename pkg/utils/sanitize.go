package utils

import (
	"regexp"
	"strings"
)

var (
	invalidFilenameChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	consecutiveUnderscores = regexp.MustCompile(`_+`)
)

const maxFilenameLength = 100

// SanitizeFilename turns name into a single path component safe on Windows and Unix.
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ ")

	if len(sanitized) > maxFilenameLength {
		sanitized = strings.Trim(sanitized[:maxFilenameLength], "_ ")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}
