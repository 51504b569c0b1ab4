package bot

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://\S+|www\.\S+`)

// StripURLs removes http(s) and www links from text.
func StripURLs(text string) string {
	return urlPattern.ReplaceAllString(text, "")
}

// containsAny reports whether lowered contains any keyword as a substring.
func containsAny(lowered string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

// commandArgs returns the text after a leading command word.
func commandArgs(text, command string) string {
	return strings.TrimSpace(strings.TrimPrefix(text, command))
}
