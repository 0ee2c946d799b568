package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pavelanni/mindcheck/internal/model"
)

// CreateJournalEntry stores a journal entry for a user.
func (s *Store) CreateJournalEntry(ctx context.Context, userID int64, text string) (model.JournalEntry, error) {
	e := model.JournalEntry{UserID: userID, Text: text, CreatedAt: time.Now().UTC()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (user_id, text, created_at) VALUES (?, ?, ?)`,
		e.UserID, e.Text, e.CreatedAt,
	)
	if err != nil {
		return e, err
	}
	e.ID, err = res.LastInsertId()
	return e, err
}

// ListJournalEntries returns a user's entries, newest first.
func (s *Store) ListJournalEntries(ctx context.Context, userID int64) ([]model.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, created_at FROM journal_entries
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Text, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetJournalEntry returns one of the user's entries, or nil if it does not
// exist or belongs to someone else.
func (s *Store) GetJournalEntry(ctx context.Context, userID, id int64) (*model.JournalEntry, error) {
	var e model.JournalEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, text, created_at FROM journal_entries WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&e.ID, &e.UserID, &e.Text, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
