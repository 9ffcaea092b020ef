// ABOUTME: Locates the first well-formed JSON value inside free-form model output
// ABOUTME: String-aware bracket matching, validated with gjson

package ai

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON returns the first well-formed JSON object or array embedded in
// text, tolerating prose and code fences around it.
func ExtractJSON(text string) (string, bool) {
	return extractFirst(text, "{[")
}

// ExtractJSONObject is ExtractJSON restricted to objects.
func ExtractJSONObject(text string) (string, bool) {
	return extractFirst(text, "{")
}

func extractFirst(text, openers string) (string, bool) {
	for start := 0; start < len(text); start++ {
		if !strings.ContainsRune(openers, rune(text[start])) {
			continue
		}
		end := matchClose(text, start)
		if end < 0 {
			continue
		}
		if candidate := text[start : end+1]; gjson.Valid(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// matchClose returns the index of the bracket closing the one at start, or -1.
// Brackets inside JSON strings are ignored.
func matchClose(text string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// isNullReply reports whether the model explicitly answered "nothing".
func isNullReply(text string) bool {
	t := strings.TrimSpace(text)
	t = strings.TrimPrefix(t, "```json")
	t = strings.Trim(t, "`")
	t = strings.ToLower(strings.TrimSpace(t))
	return t == "" || t == "null" || t == "none"
}
