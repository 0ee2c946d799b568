// Package mood turns the per-frame expression labels of a short webcam scan
// into one dominant mood. Classification itself happens in the browser.
package mood

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/mindcheck/internal/metrics"
	"github.com/pavelanni/mindcheck/internal/model"
)

// MaxSamples caps the number of labels accepted from one scan.
const MaxSamples = 1000

// Labels are the expression classes a scan may report.
var Labels = []string{"neutral", "happy", "sad", "angry", "fearful", "disgusted", "surprised"}

var (
	// ErrNoFace is returned when a scan carries no labels at all.
	ErrNoFace         = errors.New("no face detected")
	ErrTooManySamples = errors.New("too many samples")
	ErrUnknownLabel   = errors.New("unknown mood label")
)

// Dominant returns the most frequent label and the count per label. Labels
// are compared case-insensitively. On a tie the label first seen later wins.
func Dominant(labels []string) (string, map[string]int, error) {
	if len(labels) == 0 {
		return "", nil, ErrNoFace
	}
	if len(labels) > MaxSamples {
		return "", nil, ErrTooManySamples
	}

	counts := make(map[string]int)
	var order []string
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if !slices.Contains(Labels, l) {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownLabel, l)
		}
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
	}

	best := order[0]
	for _, l := range order[1:] {
		if counts[l] >= counts[best] {
			best = l
		}
	}
	return best, counts, nil
}

// Store persists mood scans.
type Store interface {
	CreateMoodReport(ctx context.Context, r model.MoodReport) (int64, error)
	ListMoodReports(ctx context.Context, userID int64) ([]model.MoodReport, error)
}

// Service records and lists mood scans.
type Service struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Record computes the dominant mood of labels and stores it for userID.
func (s *Service) Record(ctx context.Context, userID int64, labels []string) (model.MoodReport, error) {
	mood, counts, err := Dominant(labels)
	if err != nil {
		return model.MoodReport{}, err
	}
	r := model.MoodReport{
		UserID:    userID,
		Mood:      mood,
		Samples:   len(labels),
		Counts:    counts,
		CreatedAt: s.now().UTC(),
	}
	if r.ID, err = s.store.CreateMoodReport(ctx, r); err != nil {
		return model.MoodReport{}, fmt.Errorf("store mood report: %w", err)
	}
	metrics.MoodScans.WithLabelValues(mood).Inc()
	slog.Info("mood scan recorded", "user_id", userID, "mood", mood, "samples", r.Samples)
	return r, nil
}

// List returns userID's mood scans, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]model.MoodReport, error) {
	reports, err := s.store.ListMoodReports(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list mood reports: %w", err)
	}
	return reports, nil
}
