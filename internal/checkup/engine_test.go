package checkup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/mindcheck/internal/llm"
	"github.com/pavelanni/mindcheck/internal/llm/prompts"
	"github.com/pavelanni/mindcheck/internal/model"
)

func TestMain(m *testing.M) {
	if err := prompts.Load(prompts.Templates); err != nil {
		fmt.Fprintln(os.Stderr, "load prompts:", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// stubGenerator answers question prompts and report prompts from scripts.
type stubGenerator struct {
	mu            sync.Mutex
	prompts       []string
	questionCalls int
	reportCalls   int
	question      func(ctx context.Context, n int) (string, error)
	report        func(ctx context.Context) (string, error)
}

func isReportPrompt(p string) bool {
	return strings.Contains(p, "has completed a")
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	report := isReportPrompt(prompt)
	var n int
	if report {
		g.reportCalls++
	} else {
		g.questionCalls++
		n = g.questionCalls
	}
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if report {
		return g.report(ctx)
	}
	return g.question(ctx, n)
}

func (g *stubGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

func questionReply(n int) string {
	return fmt.Sprintf("Here is your next question:\n```json\n"+
		`{"question":"Question %d?","options":[{"text":"never","score":0},{"text":"sometimes","score":1},{"text":"often","score":2},{"text":"always","score":3}]}`+
		"\n```", n)
}

func reportReply(score int) string {
	return fmt.Sprintf(`{"score": %d, "analysis": "You seem mostly okay.", "suggestions": "Keep a regular sleep schedule."}`, score)
}

func okGenerator(reportScore int) *stubGenerator {
	return &stubGenerator{
		question: func(_ context.Context, n int) (string, error) { return questionReply(n), nil },
		report:   func(context.Context) (string, error) { return reportReply(reportScore), nil },
	}
}

type fakeSubjects struct {
	mu       sync.Mutex
	subjects map[int64]model.Subject
	err      error
}

func (f *fakeSubjects) GetSubject(_ context.Context, id int64) (*model.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.subjects[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

type fakeReports struct {
	mu       sync.Mutex
	appended []model.Report
	err      error
}

func (f *fakeReports) AppendReport(_ context.Context, _ int64, r model.Report) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.appended = append(f.appended, r)
	return int64(len(f.appended)), nil
}

func (f *fakeReports) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

const testSubjectID = 7

func newTestEngine(t *testing.T, gen llm.Generator, mode model.CheckupMode) (*Engine, *fakeSubjects, *fakeReports) {
	t.Helper()
	subjects := &fakeSubjects{subjects: map[int64]model.Subject{
		testSubjectID: {ID: testSubjectID, DisplayName: "Asha", ClassName: "5", Section: "A"},
	}}
	reports := &fakeReports{}
	e := NewEngine(Deps{Generator: gen, Subjects: subjects, Reports: reports}, mode, nil)
	e.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return e, subjects, reports
}

func answerAll(t *testing.T, e *Engine, options []int) error {
	t.Helper()
	var err error
	for i, opt := range options {
		err = e.Answer(context.Background(), opt)
		if err != nil && i < len(options)-1 {
			t.Fatalf("Answer %d: %v", i, err)
		}
	}
	return err
}

func TestEndToEnd(t *testing.T) {
	scores := []int{1, 0, 2, 3, 1, 0, 1, 2, 0, 1}

	tests := []struct {
		name         string
		reportScore  int
		wantMismatch bool
	}{
		{"generator agrees", 11, false},
		{"generator echoes different total", 12, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := okGenerator(tt.reportScore)
			e, _, reports := newTestEngine(t, gen, model.ModeAdaptive)

			if err := e.Start(context.Background(), testSubjectID); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if e.State() != StateAwaitingAnswer {
				t.Fatalf("state = %s, want awaiting_answer", e.State())
			}
			if !strings.Contains(gen.prompts[0], "class 5") {
				t.Error("first prompt should carry subject class")
			}
			if q := e.CurrentQuestion(); q == nil || q.Text != "Question 1?" {
				t.Fatalf("current question = %+v", q)
			}

			if err := answerAll(t, e, scores); err != nil {
				t.Fatalf("final Answer: %v", err)
			}

			if gen.questionCalls != QuestionCount {
				t.Errorf("question calls = %d, want %d", gen.questionCalls, QuestionCount)
			}
			if gen.reportCalls != 1 {
				t.Errorf("report calls = %d, want 1", gen.reportCalls)
			}
			reportPrompt := gen.lastPrompt()
			if !strings.Contains(reportPrompt, "total score is 11") {
				t.Error("report prompt should contain computed total 11")
			}
			if !strings.Contains(reportPrompt, "1, 0, 2, 3, 1, 0, 1, 2, 0, 1") {
				t.Error("report prompt should contain full score list")
			}

			if e.State() != StateReportReady {
				t.Fatalf("state = %s, want report_ready", e.State())
			}
			r := e.CurrentReport()
			if r == nil {
				t.Fatal("CurrentReport is nil")
			}
			if r.Score != Total(e.Answers()) || r.Score != 11 {
				t.Errorf("report score = %d, computed = %d", r.Score, Total(e.Answers()))
			}
			if r.GeneratorScore != tt.reportScore {
				t.Errorf("generator score = %d, want %d", r.GeneratorScore, tt.reportScore)
			}
			if r.ScoreMismatch != tt.wantMismatch {
				t.Errorf("mismatch = %v, want %v", r.ScoreMismatch, tt.wantMismatch)
			}
			if r.MaxScore != 30 {
				t.Errorf("max score = %d, want 30", r.MaxScore)
			}
			if reports.count() != 1 {
				t.Errorf("published %d reports, want 1", reports.count())
			}
			if ok, id := e.Published(); !ok || id != 1 {
				t.Errorf("Published = %v, %d", ok, id)
			}
		})
	}
}

func TestHistoryGrowsAndIsResent(t *testing.T) {
	gen := okGenerator(2)
	e, _, _ := newTestEngine(t, gen, model.ModeAdaptive)
	if err := e.Start(context.Background(), testSubjectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Answer(context.Background(), 2); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	h := e.History()
	if len(h) != 3 {
		t.Fatalf("history len = %d, want 3", len(h))
	}
	if h[0].Role != model.TurnQuestion || h[1].Role != model.TurnAnswer || h[2].Role != model.TurnQuestion {
		t.Errorf("unexpected roles: %+v", h)
	}
	if h[1].Payload != "often" {
		t.Errorf("answer payload = %q, want often", h[1].Payload)
	}
	second := gen.prompts[1]
	if !strings.Contains(second, "Question 1?") || !strings.Contains(second, "Student: often") {
		t.Error("second prompt should carry the full history")
	}
}

func TestNoEleventhQuestion(t *testing.T) {
	gen := okGenerator(0)
	e, _, _ := newTestEngine(t, gen, model.ModeAdaptive)
	if err := e.Start(context.Background(), testSubjectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < QuestionCount-1; i++ {
		if err := e.Answer(context.Background(), 0); err != nil {
			t.Fatalf("Answer %d: %v", i, err)
		}
		if e.State() != StateAwaitingAnswer {
			t.Fatalf("after %d answers state = %s", i+1, e.State())
		}
	}

	// Block the report so the intermediate state is observable.
	gen.report = func(context.Context) (string, error) { return "", errors.New("down") }
	_ = e.Answer(context.Background(), 0)
	if e.State() != StateFailed || e.ResumeState() != StateGeneratingReport {
		t.Fatalf("state = %s resume = %s, want failed from generating_report", e.State(), e.ResumeState())
	}
	if gen.questionCalls != QuestionCount {
		t.Errorf("question calls = %d, want %d", gen.questionCalls, QuestionCount)
	}
	if err := e.Answer(context.Background(), 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("11th Answer err = %v, want ErrInvalidState", err)
	}
	if len(e.Answers()) != QuestionCount {
		t.Errorf("answers = %d", len(e.Answers()))
	}
}

func TestRetryAfterGeneratorUnavailable(t *testing.T) {
	gen := okGenerator(3)
	failOnce := true
	gen.question = func(_ context.Context, n int) (string, error) {
		if n == 4 && failOnce {
			failOnce = false
			return "", fmt.Errorf("%w: connection refused", llm.ErrUnavailable)
		}
		return questionReply(n), nil
	}
	e, _, _ := newTestEngine(t, gen, model.ModeAdaptive)
	if err := e.Start(context.Background(), testSubjectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := e.Answer(context.Background(), 1); err != nil {
			t.Fatalf("Answer %d: %v", i, err)
		}
	}
	err := e.Answer(context.Background(), 1)
	if KindOf(err) != KindGeneratorUnavailable {
		t.Fatalf("err kind = %q (%v), want generator_unavailable", KindOf(err), err)
	}
	if e.State() != StateFailed {
		t.Fatalf("state = %s, want failed", e.State())
	}
	if e.LastError() == nil || e.LastError().Kind != KindGeneratorUnavailable {
		t.Errorf("LastError = %v", e.LastError())
	}
	if e.CurrentQuestion() != nil {
		t.Error("no question should be presented after failure")
	}
	if n := len(e.Answers()); n != 3 {
		t.Fatalf("answers = %d, want 3", n)
	}
	historyBefore := len(e.History())

	if err := e.Answer(context.Background(), 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Answer in failed state err = %v", err)
	}

	if err := e.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if e.State() != StateAwaitingAnswer {
		t.Errorf("state = %s, want awaiting_answer", e.State())
	}
	if n := len(e.Answers()); n != 3 {
		t.Errorf("answers after retry = %d, want 3", n)
	}
	if got := len(e.History()); got != historyBefore+1 {
		t.Errorf("history after retry = %d, want %d", got, historyBefore+1)
	}
	if e.LastError() != nil {
		t.Errorf("LastError after retry = %v", e.LastError())
	}
	if q := e.CurrentQuestion(); q == nil || q.Text != "Question 5?" {
		t.Errorf("question after retry = %+v", q)
	}
}

func TestRateLimitedKind(t *testing.T) {
	gen := okGenerator(0)
	gen.question = func(context.Context, int) (string, error) {
		return "", fmt.Errorf("%w: 429 quota", llm.ErrRateLimited)
	}
	e, _, _ := newTestEngine(t, gen, model.ModeAdaptive)
	err := e.Start(context.Background(), testSubjectID)
	if KindOf(err) != KindGeneratorRateLimited {
		t.Fatalf("kind = %q, want generator_rate_limited", KindOf(err))
	}
	if e.LastError().Kind.MessageID() != "ErrRateLimited" {
		t.Errorf("message ID = %s", e.LastError().Kind.MessageID())
	}
}

func TestMalformedQuestionRejected(t *testing.T) {
	replies := []string{
		`{"question": "How are you?"}`,
		"I'm sorry, I can't help with that.",
	}
	for _, reply := range replies {
		t.Run(reply, func(t *testing.T) {
			gen := okGenerator(0)
			first := true
			gen.question = func(_ context.Context, n int) (string, error) {
				if first {
					first = false
					return reply, nil
				}
				return questionReply(n), nil
			}
			e, _, _ := newTestEngine(t, gen, model.ModeAdaptive)

			err := e.Start(context.Background(), testSubjectID)
			if KindOf(err) != KindMalformedResponse {
				t.Fatalf("kind = %q (%v), want malformed_response", KindOf(err), err)
			}
			if e.CurrentQuestion() != nil {
				t.Error("malformed question must not be presented")
			}
			if len(e.History()) != 0 {
				t.Errorf("history = %d, want 0", len(e.History()))
			}

			if err := e.Retry(context.Background()); err != nil {
				t.Fatalf("Retry: %v", err)
			}
			if e.State() != StateAwaitingAnswer {
				t.Errorf("state = %s", e.State())
			}
		})
	}
}

func TestMalformedReport(t *testing.T) {
	gen := okGenerator(0)
	bad := true
	gen.report = func(context.Context) (string, error) {
		if bad {
			return `{"score": 3, "analysis": "fine"}`, nil
		}
		return reportReply(3), nil
	}
	e, _, reports := newTestEngine(t, gen, model.ModeAdaptive)
	if err := e.Start(context.Background(), testSubjectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := answerAll(t, e, []int{1, 1, 1, 0, 0, 0, 0, 0, 0, 0})
	if KindOf(err) != KindMalformedResponse {
		t.Fatalf("kind = %q, want malformed_response", KindOf(err))
	}
	if e.CurrentReport() != nil || reports.count() != 0 {
		t.Fatal("no report should exist after malformed reply")
	}

	bad = false
	if err := e.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if e.State() != StateReportReady || reports.count() != 1 {
		t.Errorf("state = %s, published = %d", e.State(), reports.count())
	}
	if got := e.CurrentReport().Score; got != 3 {
		t.Errorf("score = %d, want 3", got)
	}
}

func TestPublishFailureKeepsReport(t *testing.T) {
	gen := okGenerator(5)
	e, _, reports := newTestEngine(t, gen, model.ModeAdaptive)
	reports.err = errors.New("database is locked")

	if err := e.Start(context.Background(), testSubjectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := answerAll(t, e, []int{1, 1, 1, 1, 1, 0, 0, 0, 0, 0})
	if KindOf(err) != KindPublishError {
		t.Fatalf("kind = %q (%v), want publish_error", KindOf(err), err)
	}
	if e.State() != StateReportReady {
		t.Fatalf("state = %s, want report_ready", e.State())
	}
	if e.CurrentReport() == nil {
		t.Fatal("report should stay available after publish failure")
	}
	if e.LastError() != nil {
		t.Errorf("LastError = %v, want nil", e.LastError())
	}
	if e.PublishError() == nil {
		t.Error("PublishError should be set")
	}
	if err := e.Retry(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Retry after publish failure err = %v, want ErrInvalidState", err)
	}

	reports.mu.Lock()
	reports.err = nil
	reports.mu.Unlock()
	if err := e.Publish(context.Background()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := e.Publish(context.Background()); err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if reports.count() != 1 {
		t.Errorf("published %d reports, want 1", reports.count())
	}
	if e.PublishError() != nil {
		t.Error("PublishError should clear after success")
	}
	if gen.reportCalls != 1 {
		t.Errorf("report calls = %d, want 1", gen.reportCalls)
	}
}

func TestContextUnavailable(t *testing.T) {
	gen := okGenerator(0)
	e, subjects, _ := newTestEngine(t, gen, model.ModeAdaptive)

	err := e.Start(context.Background(), 99)
	if KindOf(err) != KindContextUnavailable {
		t.Fatalf("kind = %q, want context_unavailable", KindOf(err))
	}
	if gen.questionCalls != 0 {
		t.Error("no question should be requested without context")
	}

	subjects.mu.Lock()
	subjects.subjects[99] = model.Subject{ID: 99, ClassName: "8"}
	subjects.mu.Unlock()

	if err := e.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if e.State() != StateAwaitingAnswer {
		t.Errorf("state = %s", e.State())
	}
	if !strings.Contains(gen.prompts[0], "class 8") {
		t.Error("prompt should use the context fetched on retry")
	}
}

func TestInvalidOption(t *testing.T) {
	e, _, _ := newTestEngine(t, okGenerator(0), model.ModeAdaptive)
	if err := e.Start(context.Background(), testSubjectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Answer(context.Background(), 9); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("err = %v, want ErrInvalidOption", err)
	}
	if e.State() != StateAwaitingAnswer || len(e.Answers()) != 0 {
		t.Errorf("state = %s answers = %d", e.State(), len(e.Answers()))
	}
}

func TestStartTwice(t *testing.T) {
	e, _, _ := newTestEngine(t, okGenerator(0), model.ModeAdaptive)
	if err := e.Start(context.Background(), testSubjectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(context.Background(), testSubjectID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start err = %v", err)
	}
	if err := e.Publish(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("early Publish err = %v", err)
	}
}

func TestCancelledReportNotPublished(t *testing.T) {
	t.Run("during report generation", func(t *testing.T) {
		gen := okGenerator(0)
		e, _, reports := newTestEngine(t, gen, model.ModeAdaptive)
		if err := e.Start(context.Background(), testSubjectID); err != nil {
			t.Fatalf("Start: %v", err)
		}
		for i := 0; i < QuestionCount-1; i++ {
			if err := e.Answer(context.Background(), 0); err != nil {
				t.Fatalf("Answer %d: %v", i, err)
			}
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := e.Answer(ctx, 0)
		if KindOf(err) != KindGeneratorUnavailable || !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
		if reports.count() != 0 {
			t.Fatal("cancelled session must not publish")
		}
		if err := e.Retry(context.Background()); err != nil {
			t.Fatalf("Retry: %v", err)
		}
		if reports.count() != 1 {
			t.Errorf("published %d after retry, want 1", reports.count())
		}
	})

	t.Run("between report and publish", func(t *testing.T) {
		gen := okGenerator(0)
		e, _, reports := newTestEngine(t, gen, model.ModeAdaptive)
		if err := e.Start(context.Background(), testSubjectID); err != nil {
			t.Fatalf("Start: %v", err)
		}
		for i := 0; i < QuestionCount-1; i++ {
			if err := e.Answer(context.Background(), 0); err != nil {
				t.Fatalf("Answer %d: %v", i, err)
			}
		}
		ctx, cancel := context.WithCancel(context.Background())
		gen.report = func(context.Context) (string, error) {
			cancel()
			return reportReply(0), nil
		}
		err := e.Answer(ctx, 0)
		if KindOf(err) != KindPublishError {
			t.Fatalf("err = %v, want publish_error", err)
		}
		if reports.count() != 0 {
			t.Fatal("cancelled session must not publish")
		}
		if e.CurrentReport() == nil {
			t.Error("generated report should remain visible")
		}
	})
}

func TestStaticMode(t *testing.T) {
	gen := okGenerator(6)
	e, _, reports := newTestEngine(t, gen, model.ModeStatic)
	if err := e.Start(context.Background(), testSubjectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defaults := DefaultQuestions()
	for i := 0; i < QuestionCount; i++ {
		q := e.CurrentQuestion()
		if q == nil || q.Text != defaults[i].Text {
			t.Fatalf("question %d = %+v, want %q", i, q, defaults[i].Text)
		}
		opt := 0
		if i < 3 {
			opt = 2
		}
		err := e.Answer(context.Background(), opt)
		if err != nil {
			t.Fatalf("Answer %d: %v", i, err)
		}
	}
	if gen.questionCalls != 0 {
		t.Errorf("static mode asked the generator for %d questions", gen.questionCalls)
	}
	r := e.CurrentReport()
	if r == nil || r.Score != 6 || r.Mode != model.ModeStatic || r.ScoreMismatch {
		t.Fatalf("report = %+v", r)
	}
	if reports.count() != 1 {
		t.Errorf("published = %d", reports.count())
	}
}

func TestStaticModeShortQuestionnaire(t *testing.T) {
	short := []model.QuestionPrompt{scaleQuestion("only one")}
	e := NewEngine(Deps{}, model.ModeStatic, short)
	if len(e.questions) != QuestionCount {
		t.Errorf("questions = %d, want built-in %d", len(e.questions), QuestionCount)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	e, _, _ := newTestEngine(t, okGenerator(0), model.ModeAdaptive)
	if err := e.Start(context.Background(), testSubjectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	q := e.CurrentQuestion()
	q.Options[0].Score = 99
	if e.CurrentQuestion().Options[0].Score == 99 {
		t.Error("CurrentQuestion exposes engine state")
	}
	h := e.History()
	h[0].Payload = "changed"
	if e.History()[0].Payload == "changed" {
		t.Error("History exposes engine state")
	}
}
