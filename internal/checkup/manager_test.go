package checkup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/mindcheck/internal/model"
)

func newTestManager(t *testing.T, gen *stubGenerator) (*Manager, *fakeReports) {
	t.Helper()
	subjects := &fakeSubjects{subjects: map[int64]model.Subject{
		testSubjectID: {ID: testSubjectID, ClassName: "6"},
		8:             {ID: 8, ClassName: "7"},
	}}
	reports := &fakeReports{}
	return NewManager(Deps{Generator: gen, Subjects: subjects, Reports: reports}, nil), reports
}

func TestManagerCreateAndDo(t *testing.T) {
	m, reports := newTestManager(t, okGenerator(0))

	id, err := m.Create(context.Background(), testSubjectID, model.ModeAdaptive)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("empty session ID")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}

	for i := 0; i < QuestionCount; i++ {
		err := m.Do(context.Background(), id, testSubjectID, func(ctx context.Context, e *Engine) error {
			return e.Answer(ctx, 0)
		})
		if err != nil {
			t.Fatalf("Answer %d: %v", i, err)
		}
	}

	var state State
	_ = m.Do(context.Background(), id, testSubjectID, func(_ context.Context, e *Engine) error {
		state = e.State()
		return nil
	})
	if state != StateReportReady {
		t.Errorf("state = %s, want report_ready", state)
	}
	if reports.count() != 1 {
		t.Errorf("published = %d, want 1", reports.count())
	}
}

func TestManagerCreateReturnsIDOnFailure(t *testing.T) {
	gen := okGenerator(0)
	gen.question = func(context.Context, int) (string, error) { return "not json", nil }
	m, _ := newTestManager(t, gen)

	id, err := m.Create(context.Background(), testSubjectID, model.ModeAdaptive)
	if KindOf(err) != KindMalformedResponse {
		t.Fatalf("err = %v, want malformed_response", err)
	}
	if id == "" {
		t.Fatal("session ID should be returned so the caller can retry")
	}

	gen.question = func(_ context.Context, n int) (string, error) { return questionReply(n), nil }
	err = m.Do(context.Background(), id, testSubjectID, func(ctx context.Context, e *Engine) error {
		return e.Retry(ctx)
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
}

func TestManagerForeignSession(t *testing.T) {
	m, _ := newTestManager(t, okGenerator(0))
	id, err := m.Create(context.Background(), testSubjectID, model.ModeAdaptive)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	called := false
	err = m.Do(context.Background(), id, 8, func(context.Context, *Engine) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Do from another subject err = %v", err)
	}
	if called {
		t.Error("fn ran for a foreign subject")
	}
	if err := m.Abort(id, 8); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Abort from another subject err = %v", err)
	}
	if err := m.Do(context.Background(), "missing", testSubjectID, nil); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Do unknown err = %v", err)
	}
}

func TestManagerAbortCancelsInFlightCall(t *testing.T) {
	gen := okGenerator(0)
	m, reports := newTestManager(t, gen)
	id, err := m.Create(context.Background(), testSubjectID, model.ModeAdaptive)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	started := make(chan struct{})
	gen.mu.Lock()
	gen.question = func(ctx context.Context, _ int) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	gen.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- m.Do(context.Background(), id, testSubjectID, func(ctx context.Context, e *Engine) error {
			return e.Answer(ctx, 1)
		})
	}()

	<-started
	if err := m.Abort(id, testSubjectID); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("in-flight err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight call was not cancelled")
	}

	if m.Len() != 0 {
		t.Errorf("Len after abort = %d", m.Len())
	}
	if reports.count() != 0 {
		t.Error("aborted session published a report")
	}
	err = m.Do(context.Background(), id, testSubjectID, func(context.Context, *Engine) error { return nil })
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Do after abort err = %v", err)
	}
}

func TestManagerSerializesCalls(t *testing.T) {
	m, _ := newTestManager(t, okGenerator(0))
	id, err := m.Create(context.Background(), testSubjectID, model.ModeAdaptive)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inside   int
		overlaps int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(context.Background(), id, testSubjectID, func(context.Context, *Engine) error {
				mu.Lock()
				inside++
				if inside > 1 {
					overlaps++
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if overlaps != 0 {
		t.Errorf("%d overlapping calls on one session", overlaps)
	}
}

func TestManagerEvictIdle(t *testing.T) {
	m, _ := newTestManager(t, okGenerator(0))
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	old, err := m.Create(context.Background(), testSubjectID, model.ModeAdaptive)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	now = now.Add(20 * time.Minute)
	fresh, err := m.Create(context.Background(), 8, model.ModeStatic)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	now = now.Add(20 * time.Minute)

	if n := m.EvictIdle(30 * time.Minute); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if err := m.Do(context.Background(), old, testSubjectID, func(context.Context, *Engine) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("old session err = %v", err)
	}
	if err := m.Do(context.Background(), fresh, 8, func(context.Context, *Engine) error { return nil }); err != nil {
		t.Errorf("fresh session err = %v", err)
	}
}

func TestManagerStaticSource(t *testing.T) {
	custom := DefaultQuestions()
	custom[0].Text = "Custom first question"
	m, _ := newTestManager(t, okGenerator(0))
	m.static = func(context.Context) ([]model.QuestionPrompt, error) { return custom, nil }

	id, err := m.Create(context.Background(), testSubjectID, model.ModeStatic)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var text string
	_ = m.Do(context.Background(), id, testSubjectID, func(_ context.Context, e *Engine) error {
		text = e.CurrentQuestion().Text
		return nil
	})
	if text != "Custom first question" {
		t.Errorf("first question = %q", text)
	}
}
