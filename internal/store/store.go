package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/mindcheck/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		student_id TEXT NOT NULL DEFAULT '',
		class_name TEXT NOT NULL DEFAULT '',
		section TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		mode TEXT NOT NULL DEFAULT 'adaptive',
		score INTEGER NOT NULL,
		max_score INTEGER NOT NULL DEFAULT 0,
		generator_score INTEGER NOT NULL,
		score_mismatch BOOLEAN NOT NULL DEFAULT 0,
		scores TEXT NOT NULL,
		analysis TEXT NOT NULL,
		suggestions TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_reports_user ON reports(user_id, created_at);

	CREATE TABLE IF NOT EXISTS journal_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS mood_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		mood TEXT NOT NULL,
		samples INTEGER NOT NULL,
		counts TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_mood_reports_user ON mood_reports(user_id, created_at);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		options TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetSubject returns the checkup context of an active user, or nil if there
// is no such user.
func (s *Store) GetSubject(ctx context.Context, id int64) (*model.Subject, error) {
	var sub model.Subject
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, student_id, class_name, section
		 FROM users WHERE id = ? AND active = 1`, id,
	).Scan(&sub.ID, &sub.DisplayName, &sub.StudentID, &sub.ClassName, &sub.Section)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subject %d: %w", id, err)
	}
	return &sub, nil
}

// AppendReport inserts a new report row for the subject. Reports are never
// updated or deleted.
func (s *Store) AppendReport(ctx context.Context, subjectID int64, r model.Report) (int64, error) {
	scores, err := json.Marshal(r.Scores)
	if err != nil {
		return 0, fmt.Errorf("encode scores: %w", err)
	}
	createdAt := r.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (user_id, mode, score, max_score, generator_score, score_mismatch,
		                      scores, analysis, suggestions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subjectID, r.Mode, r.Score, r.MaxScore, r.GeneratorScore, r.ScoreMismatch,
		string(scores), r.Analysis, r.Suggestions, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return res.LastInsertId()
}

// ListReports returns a subject's reports, newest first.
func (s *Store) ListReports(ctx context.Context, subjectID int64) ([]model.StoredReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, mode, score, max_score, generator_score, score_mismatch,
		        scores, analysis, suggestions, created_at
		 FROM reports WHERE user_id = ? ORDER BY created_at DESC, id DESC`, subjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reports []model.StoredReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// ReportCount returns the total number of stored reports.
func (s *Store) ReportCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reports`).Scan(&count)
	return count, err
}

func scanReport(rows *sql.Rows) (model.StoredReport, error) {
	var (
		r      model.StoredReport
		scores string
	)
	err := rows.Scan(&r.ID, &r.SubjectID, &r.Mode, &r.Score, &r.MaxScore, &r.GeneratorScore,
		&r.ScoreMismatch, &scores, &r.Analysis, &r.Suggestions, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
		return r, fmt.Errorf("decode scores of report %d: %w", r.ID, err)
	}
	return r, nil
}
