// Package jsonx extracts a JSON object from free-form generated text.
// Generative collaborators asked to emit JSON routinely wrap it in code
// fences, break string literals across lines, or leave trailing commas;
// Decode applies an ordered sequence of cheap, pure repairs before giving up.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Repair names the repair stage that produced a successful parse, for log
// diagnosability.
type Repair string

const (
	RepairNone     Repair = "none"
	RepairFences   Repair = "fences"
	RepairSlice    Repair = "slice"
	RepairNewlines Repair = "newlines"
	RepairCommas   Repair = "commas"
)

// Decode attempts to parse one JSON object out of text. It never panics and
// never returns an error: ok is false only after every repair is exhausted.
func Decode(text string) (map[string]any, Repair, bool) {
	if v, ok := tryParse(strings.TrimSpace(text)); ok {
		return v, RepairNone, true
	}

	t := StripFences(text)
	if v, ok := tryParse(t); ok {
		return v, RepairFences, true
	}

	t, sliced := BraceSlice(t)
	if !sliced {
		return nil, "", false
	}
	if v, ok := tryParse(t); ok {
		return v, RepairSlice, true
	}

	t = CollapseStringBreaks(t)
	if v, ok := tryParse(t); ok {
		return v, RepairNewlines, true
	}

	t = StripStrayCommas(t)
	if v, ok := tryParse(t); ok {
		return v, RepairCommas, true
	}

	return nil, "", false
}

func tryParse(text string) (map[string]any, bool) {
	if text == "" {
		return nil, false
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	return v, true
}

var (
	fenceOpenRe  = regexp.MustCompile("^```[a-zA-Z]*[ \t]*\r?\n?")
	fenceCloseRe = regexp.MustCompile("\r?\n?```[ \t]*$")
)

// StripFences removes leading/trailing markdown code-fence markers and a
// leading language tag.
func StripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.Contains(t, "```") {
		return t
	}
	t = fenceOpenRe.ReplaceAllString(t, "")
	t = fenceCloseRe.ReplaceAllString(t, "")
	return strings.TrimSpace(t)
}

// BraceSlice extracts the substring between the first '{' and the last '}'.
func BraceSlice(text string) (string, bool) {
	first := strings.IndexByte(text, '{')
	last := strings.LastIndexByte(text, '}')
	if first == -1 || last <= first {
		return text, false
	}
	return text[first : last+1], true
}

// CollapseStringBreaks replaces raw newlines and tabs inside quoted string
// values with single spaces. Escaped characters are left alone; only literal
// control characters (which are invalid JSON anyway) are touched.
func CollapseStringBreaks(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	escaped := false
	pendingSpace := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			if escaped {
				escaped = false
				b.WriteByte(c)
				continue
			}
			switch c {
			case '\\':
				escaped = true
				b.WriteByte(c)
			case '"':
				inString = false
				pendingSpace = false
				b.WriteByte(c)
			case '\n', '\r', '\t':
				// Collapse runs of breaks into one space.
				if !pendingSpace {
					b.WriteByte(' ')
					pendingSpace = true
				}
			default:
				pendingSpace = false
				b.WriteByte(c)
			}
			continue
		}

		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}

	return b.String()
}

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	leadingCommaRe  = regexp.MustCompile(`([{\[])\s*,`)
	doubleCommaRe   = regexp.MustCompile(`,\s*,+`)
)

// StripStrayCommas removes trailing commas before a closing brace/bracket,
// stray commas right after an opening one, and comma runs.
func StripStrayCommas(text string) string {
	t := trailingCommaRe.ReplaceAllString(text, "$1")
	t = leadingCommaRe.ReplaceAllString(t, "$1")
	t = doubleCommaRe.ReplaceAllString(t, ",")
	return t
}
