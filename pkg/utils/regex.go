package utils

import (
	"regexp"
	"strings"
)

// CompileWordList builds one case-insensitive, word-bounded alternation from literal words.
// Returns nil when no usable word is given.
func CompileWordList(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return nil
	}
	// Go's \b is ASCII-only, so edges are spelled out to keep accented words whole
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}_])`)
}
