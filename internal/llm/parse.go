package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var fencedJSONRegex = regexp.MustCompile("(?s)```(?:json|JSON)[ \t]*\r?\n(.*?)\r?\n?[ \t]*```")

// ParseError reports a generator reply that did not contain a JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse generator response: %v (raw: %q)", e.Err, truncate(e.Raw, 200))
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractJSON pulls a JSON object out of a free-text reply. A ```json fenced
// block wins over the surrounding prose; without one the whole text must be
// the object. Numbers are kept as json.Number.
func ExtractJSON(raw string) (map[string]any, error) {
	candidate := strings.TrimSpace(raw)
	if m := fencedJSONRegex.FindStringSubmatch(raw); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if obj == nil {
		return nil, &ParseError{Raw: raw, Err: errors.New("not a JSON object")}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Raw: raw, Err: errors.New("trailing data after JSON object")}
	}
	return obj, nil
}

// CompactJSON re-encodes v on a single line, for logging and prompts.
func CompactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSpace(buf.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
