package usecase

import (
	"regexp"
	"strings"
	"unicode"
)

// Matches common URL patterns
var urlRe = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)

// @mentions and #hashtags, kept simple on purpose
var mentionHashtagRe = regexp.MustCompile(`[@#][\p{L}\p{N}_]+`)

// Collapse all whitespace to a single space
var wsRe = regexp.MustCompile(`\s+`)

// SanitizeText returns a store-safe version of raw message text.
//
// Removes URLs, @mentions, #hashtags, emojis/symbols and control characters.
// Keeps letters and numbers in all scripts, punctuation and regular spaces.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}

	text = urlRe.ReplaceAllString(text, "")
	text = mentionHashtagRe.ReplaceAllString(text, "")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t' || unicode.In(r, unicode.Zs):
			b.WriteRune(' ')
		case unicode.In(r, unicode.C):
			// control and invisible characters
		case unicode.In(r, unicode.L, unicode.N, unicode.P):
			b.WriteRune(r)
		default:
			// symbol territory: emoji, pictographs, math symbols
		}
	}

	return strings.TrimSpace(wsRe.ReplaceAllString(b.String(), " "))
}

// StripMarkdownFence removes outer ``` fences the model sometimes wraps its
// whole answer in, so the digest renders as plain text.
func StripMarkdownFence(text string) string {
	stripped := strings.TrimSpace(text)
	if !strings.HasPrefix(stripped, "```") {
		return text
	}

	lines := strings.Split(stripped, "\n")
	if strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
