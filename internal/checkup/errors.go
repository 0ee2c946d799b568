package checkup

import (
	"errors"
	"fmt"

	"github.com/pavelanni/mindcheck/internal/llm"
)

// ErrorKind classifies why a transition failed.
type ErrorKind string

const (
	KindContextUnavailable   ErrorKind = "context_unavailable"
	KindMalformedResponse    ErrorKind = "malformed_response"
	KindGeneratorRateLimited ErrorKind = "generator_rate_limited"
	KindGeneratorUnavailable ErrorKind = "generator_unavailable"
	KindPublishError         ErrorKind = "publish_error"
)

// MessageID returns the i18n message ID shown to the subject for this kind.
func (k ErrorKind) MessageID() string {
	switch k {
	case KindContextUnavailable:
		return "ErrContextUnavailable"
	case KindMalformedResponse:
		return "ErrMalformedResponse"
	case KindGeneratorRateLimited:
		return "ErrRateLimited"
	case KindPublishError:
		return "ErrPublish"
	default:
		return "ErrGeneratorUnavailable"
	}
}

var (
	// ErrInvalidState is returned when an operation does not apply to the current state.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrInvalidOption is returned for an option index outside the current question.
	ErrInvalidOption = errors.New("option index out of range")
)

// Error is a failed transition with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a checkup error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// generatorError maps a generator failure to its kind.
func generatorError(err error) *Error {
	var pe *llm.ParseError
	switch {
	case errors.As(err, &pe):
		return &Error{Kind: KindMalformedResponse, Err: err}
	case errors.Is(err, llm.ErrRateLimited):
		return &Error{Kind: KindGeneratorRateLimited, Err: err}
	default:
		return &Error{Kind: KindGeneratorUnavailable, Err: err}
	}
}
