package checkup

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/pavelanni/mindcheck/internal/model"
)

var errSchema = errors.New("response does not match expected shape")

// generatorReport is the validated body of a report reply.
type generatorReport struct {
	Score       int
	Analysis    string
	Suggestions string
}

func schemaErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errSchema, fmt.Sprintf(format, args...))
}

// validateQuestion checks a parsed question reply. Nothing is defaulted: a
// missing or empty field rejects the whole reply.
func validateQuestion(obj map[string]any) (model.QuestionPrompt, error) {
	var q model.QuestionPrompt

	text, ok := obj["question"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return q, schemaErr("missing question text")
	}
	rawOpts, ok := obj["options"].([]any)
	if !ok {
		return q, schemaErr("missing options")
	}
	if len(rawOpts) == 0 {
		return q, schemaErr("empty options")
	}

	q.Text = strings.TrimSpace(text)
	for i, ro := range rawOpts {
		o, ok := ro.(map[string]any)
		if !ok {
			return model.QuestionPrompt{}, schemaErr("option %d is not an object", i)
		}
		otext, ok := o["text"].(string)
		if !ok || strings.TrimSpace(otext) == "" {
			return model.QuestionPrompt{}, schemaErr("option %d has no text", i)
		}
		score, err := intField(o, "score")
		if err != nil {
			return model.QuestionPrompt{}, schemaErr("option %d: %v", i, err)
		}
		q.Options = append(q.Options, model.Option{Text: strings.TrimSpace(otext), Score: score})
	}
	return q, nil
}

// validateReport checks a parsed report reply for score, analysis and suggestions.
func validateReport(obj map[string]any) (generatorReport, error) {
	var r generatorReport

	score, err := intField(obj, "score")
	if err != nil {
		return r, schemaErr("%v", err)
	}
	analysis, ok := obj["analysis"].(string)
	if !ok {
		return r, schemaErr("missing analysis")
	}
	suggestions, err := textField(obj, "suggestions")
	if err != nil {
		return r, schemaErr("%v", err)
	}

	r.Score = score
	r.Analysis = strings.TrimSpace(analysis)
	r.Suggestions = suggestions
	return r, nil
}

// maxAbsScore bounds any score the generator may return.
const maxAbsScore = 1e6

// intField reads an integral number within ±maxAbsScore. Values come from a
// decoder with UseNumber, but float64 is accepted too.
func intField(obj map[string]any, key string) (int, error) {
	v, ok := obj[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	var f float64
	switch n := v.(type) {
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, fmt.Errorf("%s is not a number: %s", key, n)
		}
	case float64:
		f = n
	default:
		return 0, fmt.Errorf("%s is not a number", key)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%s is not an integer: %v", key, v)
	}
	if math.Abs(f) > maxAbsScore {
		return 0, fmt.Errorf("%s is out of range: %v", key, v)
	}
	return int(f), nil
}

// textField reads a string, or a list of strings joined one per line.
func textField(obj map[string]any, key string) (string, error) {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v), nil
	case []any:
		lines := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("%s contains a non-string item", key)
			}
			lines = append(lines, "- "+strings.TrimSpace(s))
		}
		return strings.Join(lines, "\n"), nil
	case nil:
		return "", fmt.Errorf("missing %s", key)
	default:
		return "", fmt.Errorf("%s is not text", key)
	}
}
