package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/pavelanni/mindcheck/internal/model"
)

// DefaultAuthSessionTTL is how long a login stays valid.
const DefaultAuthSessionTTL = 24 * time.Hour

// CreateAuthSession creates a login token for a user valid for ttl.
func (s *Store) CreateAuthSession(userID int64, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAuthSessionTTL
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(ttl),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetSessionUser resolves a login token to its active user. It returns nil
// for unknown or expired tokens and for deactivated accounts.
func (s *Store) GetSessionUser(token string) (*model.User, *model.AuthSession, error) {
	var sess model.AuthSession
	err := s.db.QueryRow(
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(token)
		return nil, nil, nil
	}

	u, err := s.GetUserByID(sess.UserID)
	if err != nil || u == nil || !u.Active {
		return nil, nil, err
	}
	return u, &sess, nil
}

// DeleteAuthSession removes a session token.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions removes all expired auth sessions and returns how
// many were removed.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
