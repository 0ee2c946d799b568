package store

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/mindcheck/internal/model"
)

const userColumns = `id, username, display_name, email, password_hash, role, active,
	student_id, class_name, section, created_at`

// CreateUser inserts a new user.
func (s *Store) CreateUser(u model.User) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO users (username, display_name, email, password_hash, role, active,
		                    student_id, class_name, section, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.DisplayName, u.Email, u.PasswordHash, u.Role, u.Active,
		u.StudentID, u.ClassName, u.Section, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

// GetUserByUsername returns a user by username.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	return s.getUser(`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	return s.getUser(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) getUser(query string, arg any) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users, optionally filtered by role.
func (s *Store) ListUsers(role model.UserRole) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ToggleUserActive flips the active flag on a user and drops their sessions
// when the account is deactivated.
func (s *Store) ToggleUserActive(id int64) error {
	if _, err := s.db.Exec(`UPDATE users SET active = NOT active WHERE id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`DELETE FROM auth_sessions WHERE user_id = ? AND user_id IN (SELECT id FROM users WHERE active = 0)`, id,
	)
	return err
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.Active,
		&u.StudentID, &u.ClassName, &u.Section, &u.CreatedAt)
	return u, err
}
