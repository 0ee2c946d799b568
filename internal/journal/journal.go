// Package journal stores free-text journal entries and asks the generator for
// a short supportive insight on one of them.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/mindcheck/internal/llm"
	"github.com/pavelanni/mindcheck/internal/llm/prompts"
	"github.com/pavelanni/mindcheck/internal/metrics"
	"github.com/pavelanni/mindcheck/internal/model"
)

// MaxEntryRunes caps the length of a saved entry.
const MaxEntryRunes = 10000

var (
	ErrEmptyEntry   = errors.New("journal entry is empty")
	ErrEntryTooLong = errors.New("journal entry is too long")
	ErrNotFound     = errors.New("journal entry not found")
	// ErrEmptyInsight is returned when the generator replies with no text.
	ErrEmptyInsight = errors.New("generator returned an empty insight")
)

// Store persists journal entries.
type Store interface {
	CreateJournalEntry(ctx context.Context, userID int64, text string) (model.JournalEntry, error)
	ListJournalEntries(ctx context.Context, userID int64) ([]model.JournalEntry, error)
	GetJournalEntry(ctx context.Context, userID, id int64) (*model.JournalEntry, error)
}

// Service implements the journal operations.
type Service struct {
	store Store
	gen   llm.Generator
}

func New(store Store, gen llm.Generator) *Service {
	return &Service{store: store, gen: gen}
}

// Save stores a new entry for userID.
func (s *Service) Save(ctx context.Context, userID int64, text string) (model.JournalEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.JournalEntry{}, ErrEmptyEntry
	}
	if utf8.RuneCountInString(text) > MaxEntryRunes {
		return model.JournalEntry{}, ErrEntryTooLong
	}
	e, err := s.store.CreateJournalEntry(ctx, userID, text)
	if err != nil {
		return e, fmt.Errorf("save journal entry: %w", err)
	}
	slog.Debug("journal entry saved", "user_id", userID, "entry_id", e.ID)
	return e, nil
}

// List returns userID's entries, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]model.JournalEntry, error) {
	entries, err := s.store.ListJournalEntries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	return entries, nil
}

// Insight asks the generator for a 3-4 sentence supportive summary of one
// of userID's entries. Generator failures wrap llm.ErrRateLimited or
// llm.ErrUnavailable.
func (s *Service) Insight(ctx context.Context, userID, entryID int64) (string, error) {
	e, err := s.store.GetJournalEntry(ctx, userID, entryID)
	if err != nil {
		return "", fmt.Errorf("get journal entry: %w", err)
	}
	if e == nil {
		return "", ErrNotFound
	}

	prompt, err := prompts.BuildInsightPrompt(e.Text)
	if err != nil {
		return "", fmt.Errorf("build insight prompt: %w", err)
	}

	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		var outcome string
		outcome, err = llm.Outcome(err)
		metrics.GeneratorCalls.WithLabelValues("insight", outcome).Inc()
		slog.Warn("journal insight failed", "user_id", userID, "entry_id", entryID, "error", err)
		return "", err
	}

	insight := strings.TrimSpace(reply)
	if insight == "" {
		metrics.GeneratorCalls.WithLabelValues("insight", "malformed_response").Inc()
		return "", ErrEmptyInsight
	}
	metrics.GeneratorCalls.WithLabelValues("insight", "ok").Inc()
	return insight, nil
}
