package checkup

import "github.com/pavelanni/mindcheck/internal/model"

// Record returns answers with the chosen option of q appended. The input
// slice is never modified.
func Record(answers []model.AnsweredQuestion, q model.QuestionPrompt, optionIndex int) ([]model.AnsweredQuestion, error) {
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		return answers, ErrInvalidOption
	}
	opt := q.Options[optionIndex]
	out := make([]model.AnsweredQuestion, len(answers), len(answers)+1)
	copy(out, answers)
	return append(out, model.AnsweredQuestion{
		QuestionText:     q.Text,
		ChosenOptionText: opt.Text,
		Score:            opt.Score,
		MaxScore:         q.MaxScore(),
	}), nil
}

// Total sums the recorded scores.
func Total(answers []model.AnsweredQuestion) int {
	total := 0
	for _, a := range answers {
		total += a.Score
	}
	return total
}

// MaxTotal sums the highest attainable score of every answered question.
func MaxTotal(answers []model.AnsweredQuestion) int {
	total := 0
	for _, a := range answers {
		total += a.MaxScore
	}
	return total
}

// ScoreSequence returns the scores in recording order.
func ScoreSequence(answers []model.AnsweredQuestion) []int {
	scores := make([]int, len(answers))
	for i, a := range answers {
		scores[i] = a.Score
	}
	return scores
}
