package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student taking checkups.
	UserRoleStudent UserRole = "student"
	// UserRoleCounselor can read student reports.
	UserRoleCounselor UserRole = "counselor"
	// UserRoleAdmin manages accounts.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user. Students carry their school profile.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	StudentID    string    `json:"student_id,omitempty"`
	ClassName    string    `json:"class_name,omitempty"`
	Section      string    `json:"section,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Subject is the context a checkup is tailored to.
type Subject struct {
	ID          int64
	DisplayName string
	StudentID   string
	ClassName   string
	Section     string
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	TurnQuestion TurnRole = "question"
	TurnAnswer   TurnRole = "answer"
)

// Turn is one entry of the dialogue history re-sent to the generator.
type Turn struct {
	Role    TurnRole `json:"role"`
	Payload string   `json:"payload"`
}

// Option is one selectable answer with its score.
type Option struct {
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// QuestionPrompt is a multiple-choice question shown to the subject.
type QuestionPrompt struct {
	Text    string   `json:"question"`
	Options []Option `json:"options"`
}

// MaxScore returns the highest option score, or 0 for a question with no options.
func (q QuestionPrompt) MaxScore() int {
	best := 0
	for i, o := range q.Options {
		if i == 0 || o.Score > best {
			best = o.Score
		}
	}
	return best
}

// AnsweredQuestion records the option a subject chose.
type AnsweredQuestion struct {
	QuestionText     string `json:"question"`
	ChosenOptionText string `json:"answer"`
	Score            int    `json:"score"`
	MaxScore         int    `json:"max_score"`
}

// CheckupMode selects how questions are produced.
type CheckupMode string

const (
	// ModeAdaptive asks the generator for each question.
	ModeAdaptive CheckupMode = "adaptive"
	// ModeStatic walks a fixed questionnaire.
	ModeStatic CheckupMode = "static"
)

// Report is the final outcome of a checkup.
type Report struct {
	// Score is the total computed from recorded answers.
	Score int `json:"score"`
	// GeneratorScore is the total the generator restated in its reply.
	GeneratorScore int         `json:"generator_score"`
	ScoreMismatch  bool        `json:"score_mismatch"`
	MaxScore       int         `json:"max_score"`
	Scores         []int       `json:"scores"`
	Analysis       string      `json:"analysis"`
	Suggestions    string      `json:"suggestions"`
	Mode           CheckupMode `json:"mode"`
	CreatedAt      time.Time   `json:"created_at"`
}

// StoredReport is a report read back from the store.
type StoredReport struct {
	ID        int64 `json:"id"`
	SubjectID int64 `json:"subject_id"`
	Report
}

// JournalEntry is a free-text journal entry.
type JournalEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// MoodReport is the dominant mood of one webcam scan, computed from the
// per-frame expression labels.
type MoodReport struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Mood      string         `json:"mood"`
	Samples   int            `json:"samples"`
	Counts    map[string]int `json:"counts"`
	CreatedAt time.Time      `json:"created_at"`
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/portal")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	AllowSignup   bool   // Allow self-registration of student accounts
}
