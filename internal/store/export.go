package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/mindcheck/internal/model"
)

// ExportAllReports builds export-ready results for every student, with
// reports numbered oldest first.
func (s *Store) ExportAllReports(ctx context.Context) ([]model.StudentResult, error) {
	students, err := s.ListUsers(model.UserRoleStudent)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	var results []model.StudentResult
	for _, u := range students {
		reports, err := s.ListReports(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("list reports of user %d: %w", u.ID, err)
		}
		if len(reports) == 0 {
			continue
		}

		out := make([]model.ReportResult, len(reports))
		for i, r := range reports {
			// ListReports is newest first.
			n := len(reports) - i
			out[n-1] = model.ReportResult{
				Number:         n,
				Mode:           r.Mode,
				Score:          r.Score,
				MaxScore:       r.MaxScore,
				GeneratorScore: r.GeneratorScore,
				ScoreMismatch:  r.ScoreMismatch,
				Scores:         r.Scores,
				Analysis:       r.Analysis,
				Suggestions:    r.Suggestions,
				CreatedAt:      r.CreatedAt,
			}
		}

		results = append(results, model.StudentResult{
			StudentID:   u.StudentID,
			DisplayName: u.DisplayName,
			ClassName:   u.ClassName,
			Section:     u.Section,
			Reports:     out,
		})
	}

	return results, nil
}
