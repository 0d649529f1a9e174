package posts

import (
	"strings"
	"unicode"
)

const ellipsis = "..."

// NormalizeNewlines replaces the literal \n escape sequences that the
// generation model sometimes emits with real line breaks.
func NormalizeNewlines(text string) string {
	return strings.ReplaceAll(text, `\n`, "\n")
}

// TruncateToCompleteSentence bounds text to at most limit characters,
// preferring to cut at a sentence boundary. Three ordered fallbacks:
//
//  1. cut at the last period at or before index limit, keeping the period
//  2. cut at the last whitespace at or before index limit and append an
//     ellipsis
//  3. hard cut at limit-3 and append an ellipsis
//
// Each tier is only used if the previous one yields a blank prefix. The
// function is pure; limits and indexes are in runes, not bytes.
func TruncateToCompleteSentence(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	// the boundary character may sit at index limit itself
	head := runes
	if len(head) > limit+1 {
		head = head[:limit+1]
	}

	if i := lastPeriod(head); i >= 0 {
		cut := strings.TrimSpace(string(head[:i+1]))
		if cut != "" {
			return cut
		}
	}

	if i := lastWhitespace(head); i >= 0 {
		cut := strings.TrimSpace(string(head[:i]))
		if cut != "" {
			return cut + ellipsis
		}
	}

	return strings.TrimSpace(string(runes[:limit-len(ellipsis)])) + ellipsis
}

func lastPeriod(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '.' {
			return i
		}
	}

	return -1
}

func lastWhitespace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}

	return -1
}
