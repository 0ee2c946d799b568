package checkup

import "github.com/pavelanni/mindcheck/internal/model"

var frequencyOptions = []model.Option{
	{Text: "Not at all", Score: 0},
	{Text: "Several days", Score: 1},
	{Text: "More than half the days", Score: 2},
	{Text: "Nearly every day", Score: 3},
}

// defaultQuestionTexts follow the PHQ-9 and GAD-7 screeners.
var defaultQuestionTexts = []string{
	"Feeling nervous, anxious, or on edge?",
	"Not being able to stop or control worrying?",
	"Little interest or pleasure in doing things?",
	"Feeling down, depressed, or hopeless?",
	"Trouble falling or staying asleep, or sleeping too much?",
	"Feeling tired or having little energy?",
	"Poor appetite or overeating?",
	"Feeling bad about yourself, or that you are a failure or have let yourself or your family down?",
	"Trouble concentrating on things, such as reading or watching TV?",
	"Feeling afraid, as if something awful might happen?",
}

// DefaultQuestions returns the built-in static questionnaire, scored 0-3 per question.
func DefaultQuestions() []model.QuestionPrompt {
	qs := make([]model.QuestionPrompt, len(defaultQuestionTexts))
	for i, text := range defaultQuestionTexts {
		qs[i] = model.QuestionPrompt{
			Text:    text,
			Options: append([]model.Option(nil), frequencyOptions...),
		}
	}
	return qs
}
