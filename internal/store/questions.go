package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/mindcheck/internal/model"
)

// ReplaceQuestions swaps the static questionnaire for qs, kept in order.
func (s *Store) ReplaceQuestions(ctx context.Context, qs []model.QuestionPrompt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions`); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}
	for i, q := range qs {
		opts, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options of question %d: %w", i+1, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (position, text, options) VALUES (?, ?, ?)`,
			i, q.Text, string(opts),
		)
		if err != nil {
			return fmt.Errorf("insert question %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// ListQuestions returns the static questionnaire in order.
func (s *Store) ListQuestions(ctx context.Context) ([]model.QuestionPrompt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text, options FROM questions ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var qs []model.QuestionPrompt
	for rows.Next() {
		var (
			q    model.QuestionPrompt
			opts string
		)
		if err := rows.Scan(&q.Text, &opts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of %q: %w", q.Text, err)
		}
		qs = append(qs, q)
	}
	return qs, rows.Err()
}

// QuestionCount returns the number of stored static questions.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}
