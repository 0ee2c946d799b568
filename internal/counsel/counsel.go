// Package counsel answers a student's free-text message in the voice of a
// school counselor.
package counsel

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
)

// MaxMessageRunes caps the length of one message.
const MaxMessageRunes = 2000

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	// ErrEmptyReply is returned when the generator replies with no text.
	ErrEmptyReply = errors.New("generator returned an empty reply")
)

// Service holds the generator used for replies.
type Service struct {
	gen llm.Generator
}

func New(gen llm.Generator) *Service {
	return &Service{gen: gen}
}

// Ask returns the counselor's reply to message. Generator failures wrap
// llm.ErrRateLimited or llm.ErrUnavailable.
func (s *Service) Ask(ctx context.Context, userID int64, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > MaxMessageRunes {
		return "", ErrMessageTooLong
	}

	prompt, err := prompts.BuildAskPrompt(message)
	if err != nil {
		return "", fmt.Errorf("build ask prompt: %w", err)
	}

	raw, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		var outcome string
		outcome, err = llm.Outcome(err)
		metrics.GeneratorCalls.WithLabelValues("ask", outcome).Inc()
		slog.Warn("counselor reply failed", "user_id", userID, "error", err)
		return "", err
	}

	reply := strings.TrimSpace(raw)
	if reply == "" {
		metrics.GeneratorCalls.WithLabelValues("ask", "malformed_response").Inc()
		return "", ErrEmptyReply
	}
	metrics.GeneratorCalls.WithLabelValues("ask", "ok").Inc()
	slog.Debug("counselor replied", "user_id", userID, "message_runes", utf8.RuneCountInString(message))
	return reply, nil
}
