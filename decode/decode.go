// Package decode converts raw generator text into a structured value on a
// best-effort basis. Generative models routinely emit JSON with trailing
// commas, Pythonic literal spellings, single-quoted strings, surrounding
// prose or fenced code blocks; callers get back a clean value or nothing,
// never a panic. On total failure callers fall back to treating the raw
// text as an opaque string.
package decode

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxInputLen caps the input size eligible for pattern-based repair. Inputs
// beyond the cap are rejected before any repair pass runs, so adversarial
// input cannot trigger worst-case quadratic scanning. A strict parse is
// still attempted first regardless of size.
const MaxInputLen = 1 << 18

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n(.*?)\\n\\s*```")

// Decode attempts, in order: a strict parse; a parse after normalizing known
// generator quirks; extraction of the longest balanced bracketed substring
// followed by the same two attempts on the extract. The second return is
// false when every attempt failed.
func Decode(raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}
	if v, ok := strict(s); ok {
		return v, true
	}
	if len(s) > MaxInputLen {
		return nil, false
	}
	if inner, ok := unfence(s); ok {
		if v, ok := attempt(inner); ok {
			return v, true
		}
	}
	if v, ok := attempt(s); ok {
		return v, true
	}
	if sub, ok := extractBalanced(s); ok {
		if v, ok := attempt(sub); ok {
			return v, true
		}
	}
	return nil, false
}

// attempt runs the strict parse, then the quirk-normalized parse.
func attempt(s string) (any, bool) {
	if v, ok := strict(s); ok {
		return v, true
	}
	return strict(normalize(s))
}

func strict(s string) (any, bool) {
	if !gjson.Valid(s) {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// normalize rewrites known generator quirks: single-quoted strings (only
// when no double quotes exist in the text, to avoid corrupting legitimate
// quoted prose), alternate true/false/null spellings, and trailing commas
// before a closing bracket. Literal and comma rewrites are string-aware so
// content inside string values is never touched.
func normalize(s string) string {
	if !strings.Contains(s, `"`) {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	s = rewriteLiterals(s)
	return stripTrailingCommas(s)
}

// literalSpellings maps non-JSON keyword spellings onto JSON keywords.
var literalSpellings = map[string]string{
	"True": "true", "TRUE": "true",
	"False": "false", "FALSE": "false",
	"None": "null", "NULL": "null", "Null": "null", "nil": "null",
}

func rewriteLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if isWordByte(c) {
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			word := s[i:j]
			if repl, ok := literalSpellings[word]; ok {
				b.WriteString(repl)
			} else {
				b.WriteString(word)
			}
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case ',':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the separator
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unfence extracts the body of the first fenced code block, if any.
func unfence(s string) (string, bool) {
	m := fenceRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// extractBalanced returns the longest balanced {...} or [...] substring,
// tracking string and escape state so brackets inside string literals are
// not miscounted.
func extractBalanced(s string) (string, bool) {
	best := ""
	for i := 0; i < len(s); i++ {
		open := s[i]
		if open != '{' && open != '[' {
			continue
		}
		if end, ok := matchBracket(s, i); ok {
			if end-i+1 > len(best) {
				best = s[i : end+1]
			}
			// later openers inside this span cannot be longer
			i = end
		}
	}
	return best, best != ""
}

// matchBracket finds the index of the bracket closing s[start].
func matchBracket(s string, start int) (int, bool) {
	type frame = byte
	var stack []frame
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return 0, false
			}
			top := stack[len(stack)-1]
			if (c == '}' && top != '{') || (c == ']' && top != '[') {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
