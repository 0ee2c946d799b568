package checkup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/mindcheck/internal/model"
)

// ErrSessionNotFound is returned for unknown, aborted, or foreign sessions.
var ErrSessionNotFound = errors.New("checkup session not found")

// QuestionSource supplies the static questionnaire for new sessions.
type QuestionSource func(ctx context.Context) ([]model.QuestionPrompt, error)

type session struct {
	mu        sync.Mutex
	engine    *Engine
	subjectID int64
	ctx       context.Context
	cancel    context.CancelFunc

	// guarded by Manager.mu
	lastUsed time.Time
}

// Manager owns the in-flight checkup sessions of all subjects.
type Manager struct {
	deps     Deps
	static   QuestionSource
	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a manager. static may be nil, in which case static
// sessions use the built-in questionnaire.
func NewManager(deps Deps, static QuestionSource) *Manager {
	return &Manager{
		deps:     deps,
		static:   static,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Create registers a new session for subjectID and starts it. The session
// ID is returned even when starting fails, so the caller can retry.
func (m *Manager) Create(ctx context.Context, subjectID int64, mode model.CheckupMode) (string, error) {
	var questions []model.QuestionPrompt
	if mode == model.ModeStatic && m.static != nil {
		qs, err := m.static(ctx)
		if err != nil {
			slog.Warn("load static questionnaire failed, using built-in set", "error", err)
		}
		questions = qs
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		engine:    NewEngine(m.deps, mode, questions),
		subjectID: subjectID,
		ctx:       sessCtx,
		cancel:    cancel,
		lastUsed:  m.now(),
	}
	id := uuid.NewString()

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	slog.Info("checkup session created", "session_id", id, "subject_id", subjectID, "mode", s.engine.Mode())

	return id, m.Do(ctx, id, subjectID, func(ctx context.Context, e *Engine) error {
		return e.Start(ctx, subjectID)
	})
}

// Do runs fn against the session's engine. Calls for one session are
// serialized; fn's context ends when either ctx ends or the session is aborted.
func (m *Manager) Do(ctx context.Context, id string, subjectID int64, fn func(context.Context, *Engine) error) error {
	s, err := m.lookup(id, subjectID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return ErrSessionNotFound
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	err = fn(opCtx, s.engine)
	m.touch(s)
	return err
}

// Abort cancels any in-flight call of the session and forgets it.
func (m *Manager) Abort(id string, subjectID int64) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.subjectID != subjectID {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	s.cancel()
	slog.Info("checkup session aborted", "session_id", id, "subject_id", subjectID)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartJanitor evicts sessions idle for longer than ttl every interval,
// until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go m.runJanitor(ctx, interval, ttl)
}

func (m *Manager) runJanitor(ctx context.Context, interval, ttl time.Duration) {
	slog.Info("session janitor started", "interval", interval, "ttl", ttl)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session janitor stopped")
			return
		case <-ticker.C:
			if n := m.EvictIdle(ttl); n > 0 {
				slog.Info("evicted idle checkup sessions", "count", n)
			}
		}
	}
}

// EvictIdle drops sessions not used within ttl and returns how many were dropped.
func (m *Manager) EvictIdle(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	var expired []*session
	for id, s := range m.sessions {
		if s.lastUsed.Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.cancel()
	}
	return len(expired)
}

func (m *Manager) lookup(id string, subjectID int64) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.subjectID != subjectID {
		return nil, ErrSessionNotFound
	}
	s.lastUsed = m.now()
	return s, nil
}

func (m *Manager) touch(s *session) {
	m.mu.Lock()
	s.lastUsed = m.now()
	m.mu.Unlock()
}
