package rephrase

import (
	"encoding/json"
	"regexp"
)

// jsonFragment matches JSON-shaped substrings inside free-form model output:
// numbers, quoted strings, single-level balanced objects, and bracketed
// arrays. Model replies routinely wrap the requested JSON in prose, code
// fences, or several competing fragments; scanning for candidates and
// parsing each one independently is far more robust than trusting the whole
// reply to be valid JSON.
var jsonFragment = regexp.MustCompile(
	`[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?` + // number
		`|"(?:\\.|[^"\\])*"` + // string
		`|\{(?:\s*"(?:\\.|[^"\\])*"\s*:\s*(?:\{[^{}]*\}|\[[^\[\]]*\]|[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?|"(?:\\.|[^"\\])*")\s*,?\s*)*\}` + // flat object
		`|\[[^\[\]]*\]`, // flat array
)

// scanJSON extracts every parseable JSON value from text, in order of
// appearance. Fragments that fail to parse are discarded silently — a
// malformed fragment next to a valid one must not poison the scan.
func scanJSON(text string) []any {
	matches := jsonFragment.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	values := make([]any, 0, len(matches))
	for _, match := range matches {
		var v any
		if err := json.Unmarshal([]byte(match), &v); err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}
