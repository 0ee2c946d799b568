package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/mindcheck/internal/model"
)

// CreateMoodReport stores a mood scan result and returns its ID.
func (s *Store) CreateMoodReport(ctx context.Context, r model.MoodReport) (int64, error) {
	counts, err := json.Marshal(r.Counts)
	if err != nil {
		return 0, fmt.Errorf("encode mood counts: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mood_reports (user_id, mood, samples, counts, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.UserID, r.Mood, r.Samples, string(counts), r.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListMoodReports returns a user's mood scans, newest first.
func (s *Store) ListMoodReports(ctx context.Context, userID int64) ([]model.MoodReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, mood, samples, counts, created_at FROM mood_reports
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []model.MoodReport
	for rows.Next() {
		var (
			r      model.MoodReport
			counts string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Mood, &r.Samples, &counts, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
			return nil, fmt.Errorf("decode mood counts of report %d: %w", r.ID, err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
