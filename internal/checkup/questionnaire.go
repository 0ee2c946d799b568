package checkup

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pavelanni/mindcheck/internal/model"
)

// ParseQuestionnaire decodes a static questionnaire file: a JSON array of
// {"question": ..., "options": [{"text": ..., "score": ...}]} objects with at
// least QuestionCount entries.
func ParseQuestionnaire(data []byte) ([]model.QuestionPrompt, error) {
	var qs []model.QuestionPrompt
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(qs) < QuestionCount {
		return nil, fmt.Errorf("questionnaire has %d questions, need at least %d", len(qs), QuestionCount)
	}
	for i, q := range qs {
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("question %d: empty text", i+1)
		}
		if len(q.Options) == 0 {
			return nil, fmt.Errorf("question %d: no options", i+1)
		}
		for j, o := range q.Options {
			if strings.TrimSpace(o.Text) == "" {
				return nil, fmt.Errorf("question %d option %d: empty text", i+1, j+1)
			}
			if o.Score < 0 {
				return nil, fmt.Errorf("question %d option %d: negative score", i+1, j+1)
			}
		}
	}
	return qs, nil
}
