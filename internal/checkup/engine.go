// Package checkup runs the adaptive mental-health checkup conversation: it asks
// the generator for one question at a time, records scored answers, and after
// QuestionCount answers asks for a final report that is appended to the
// subject's report history.
package checkup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/mindcheck/internal/llm"
	"github.com/pavelanni/mindcheck/internal/llm/prompts"
	"github.com/pavelanni/mindcheck/internal/metrics"
	"github.com/pavelanni/mindcheck/internal/model"
)

// QuestionCount is the number of answers after which the report is generated.
const QuestionCount = 10

// State is a conversation state.
type State string

const (
	StateInitializing       State = "initializing"
	StateAwaitingQuestion   State = "awaiting_question"
	StatePresentingQuestion State = "presenting_question"
	StateAwaitingAnswer     State = "awaiting_answer"
	StateGeneratingReport   State = "generating_report"
	StateReportReady        State = "report_ready"
	StateFailed             State = "failed"
)

// SubjectStore reads the subject context. A nil subject with a nil error
// means the subject does not exist.
type SubjectStore interface {
	GetSubject(ctx context.Context, id int64) (*model.Subject, error)
}

// ReportStore appends a report to a subject's history.
type ReportStore interface {
	AppendReport(ctx context.Context, subjectID int64, r model.Report) (int64, error)
}

// Deps are the external collaborators of an Engine.
type Deps struct {
	Generator llm.Generator
	Subjects  SubjectStore
	Reports   ReportStore
}

// Engine is one subject's checkup conversation. It is not safe for
// concurrent use; Manager serializes calls per session.
type Engine struct {
	deps      Deps
	mode      model.CheckupMode
	questions []model.QuestionPrompt
	now       func() time.Time

	state      State
	resume     State
	lastErr    *Error
	subjectID  int64
	subject    model.Subject
	history    []model.Turn
	answers    []model.AnsweredQuestion
	current    *model.QuestionPrompt
	report     *model.Report
	reportID   int64
	published  bool
	publishErr *Error
}

// NewEngine creates an engine in StateInitializing. questions is only used in
// static mode; with fewer than QuestionCount entries the built-in
// questionnaire is used instead.
func NewEngine(deps Deps, mode model.CheckupMode, questions []model.QuestionPrompt) *Engine {
	if mode != model.ModeStatic {
		mode = model.ModeAdaptive
	}
	if mode == model.ModeStatic && len(questions) < QuestionCount {
		if len(questions) > 0 {
			slog.Warn("static questionnaire too short, using built-in set", "have", len(questions), "need", QuestionCount)
		}
		questions = DefaultQuestions()
	}
	return &Engine{
		deps:      deps,
		mode:      mode,
		questions: questions,
		now:       time.Now,
		state:     StateInitializing,
	}
}

// Start fetches the subject context and requests the first question.
func (e *Engine) Start(ctx context.Context, subjectID int64) error {
	if e.state != StateInitializing {
		return ErrInvalidState
	}
	e.subjectID = subjectID
	return e.initialize(ctx)
}

// Answer records the option chosen for the current question and moves on to
// the next question, or to the report after the last one.
func (e *Engine) Answer(ctx context.Context, optionIndex int) error {
	if e.state != StateAwaitingAnswer || e.current == nil {
		return ErrInvalidState
	}
	answers, err := Record(e.answers, *e.current, optionIndex)
	if err != nil {
		return err
	}
	chosen := e.current.Options[optionIndex]
	e.answers = answers
	e.history = append(e.history, model.Turn{Role: model.TurnAnswer, Payload: chosen.Text})
	e.current = nil

	slog.Debug("answer recorded",
		"subject_id", e.subjectID,
		"answered", len(e.answers),
		"score", chosen.Score,
	)

	if len(e.answers) < QuestionCount {
		e.state = StateAwaitingQuestion
		return e.requestQuestion(ctx)
	}

	e.state = StateGeneratingReport
	if err := e.generateReport(ctx); err != nil {
		return err
	}
	return e.Publish(ctx)
}

// Retry re-issues the transition that left the engine in StateFailed.
// Recorded answers are never touched.
func (e *Engine) Retry(ctx context.Context) error {
	if e.state != StateFailed {
		return ErrInvalidState
	}
	e.lastErr = nil
	e.state = e.resume

	switch e.resume {
	case StateInitializing:
		return e.initialize(ctx)
	case StateAwaitingQuestion:
		return e.requestQuestion(ctx)
	case StateGeneratingReport:
		if err := e.generateReport(ctx); err != nil {
			return err
		}
		return e.Publish(ctx)
	default:
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidState, e.resume)
	}
}

// Publish appends the generated report to the subject's history. It succeeds
// at most once; later calls are no-ops. A failure leaves the report in place.
func (e *Engine) Publish(ctx context.Context) error {
	if e.state != StateReportReady || e.report == nil {
		return ErrInvalidState
	}
	if e.published {
		return nil
	}
	if err := ctx.Err(); err != nil {
		e.publishErr = &Error{Kind: KindPublishError, Err: err}
		return e.publishErr
	}

	id, err := e.deps.Reports.AppendReport(ctx, e.subjectID, *e.report)
	if err != nil {
		slog.Error("publish report failed", "subject_id", e.subjectID, "error", err)
		metrics.PublishFailures.Inc()
		e.publishErr = &Error{Kind: KindPublishError, Err: err}
		return e.publishErr
	}

	e.published = true
	e.reportID = id
	e.publishErr = nil
	metrics.CheckupsCompleted.WithLabelValues(string(e.mode)).Inc()
	slog.Info("report published",
		"subject_id", e.subjectID,
		"report_id", id,
		"score", e.report.Score,
		"mode", e.mode,
	)
	return nil
}

func (e *Engine) initialize(ctx context.Context) error {
	subject, err := e.deps.Subjects.GetSubject(ctx, e.subjectID)
	if err == nil && subject == nil {
		err = fmt.Errorf("subject %d not found", e.subjectID)
	}
	if err != nil {
		return e.fail(StateInitializing, &Error{Kind: KindContextUnavailable, Err: err})
	}
	e.subject = *subject
	e.state = StateAwaitingQuestion
	return e.requestQuestion(ctx)
}

func (e *Engine) requestQuestion(ctx context.Context) error {
	var q model.QuestionPrompt
	if e.mode == model.ModeStatic {
		q = e.questions[len(e.answers)]
	} else {
		prompt, err := prompts.BuildQuestionPrompt(e.subject, e.History(), len(e.answers)+1, QuestionCount)
		if err != nil {
			return e.fail(StateAwaitingQuestion, &Error{Kind: KindGeneratorUnavailable, Err: err})
		}
		var cerr *Error
		q, cerr = e.fetchQuestion(ctx, prompt)
		if cerr != nil {
			return e.fail(StateAwaitingQuestion, cerr)
		}
	}

	e.state = StatePresentingQuestion
	e.current = &q
	e.history = append(e.history, model.Turn{Role: model.TurnQuestion, Payload: formatQuestion(q)})
	e.state = StateAwaitingAnswer
	return nil
}

func (e *Engine) fetchQuestion(ctx context.Context, prompt string) (model.QuestionPrompt, *Error) {
	raw, err := e.deps.Generator.Generate(ctx, prompt)
	if err != nil {
		return model.QuestionPrompt{}, e.observe("question", generatorError(err))
	}
	obj, err := llm.ExtractJSON(raw)
	if err != nil {
		return model.QuestionPrompt{}, e.observe("question", &Error{Kind: KindMalformedResponse, Err: err})
	}
	q, err := validateQuestion(obj)
	if err != nil {
		slog.Warn("question reply rejected", "subject_id", e.subjectID, "error", err, "reply", llm.CompactJSON(obj))
		return model.QuestionPrompt{}, e.observe("question", &Error{Kind: KindMalformedResponse, Err: err})
	}
	e.observe("question", nil)
	return q, nil
}

func (e *Engine) generateReport(ctx context.Context) error {
	total := Total(e.answers)
	scores := ScoreSequence(e.answers)

	prompt, err := prompts.BuildReportPrompt(total, MaxTotal(e.answers), scores, e.History())
	if err != nil {
		return e.fail(StateGeneratingReport, &Error{Kind: KindGeneratorUnavailable, Err: err})
	}
	raw, err := e.deps.Generator.Generate(ctx, prompt)
	if err != nil {
		return e.fail(StateGeneratingReport, e.observe("report", generatorError(err)))
	}
	obj, err := llm.ExtractJSON(raw)
	if err != nil {
		return e.fail(StateGeneratingReport, e.observe("report", &Error{Kind: KindMalformedResponse, Err: err}))
	}
	gr, err := validateReport(obj)
	if err != nil {
		slog.Warn("report reply rejected", "subject_id", e.subjectID, "error", err, "reply", llm.CompactJSON(obj))
		return e.fail(StateGeneratingReport, e.observe("report", &Error{Kind: KindMalformedResponse, Err: err}))
	}
	e.observe("report", nil)

	report := model.Report{
		Score:          total,
		GeneratorScore: gr.Score,
		ScoreMismatch:  gr.Score != total,
		MaxScore:       MaxTotal(e.answers),
		Scores:         scores,
		Analysis:       gr.Analysis,
		Suggestions:    gr.Suggestions,
		Mode:           e.mode,
		CreatedAt:      e.now().UTC(),
	}
	if report.ScoreMismatch {
		metrics.ScoreMismatches.Inc()
		slog.Warn("generator restated a different total",
			"subject_id", e.subjectID,
			"computed", total,
			"generator", gr.Score,
		)
	}

	e.report = &report
	e.state = StateReportReady
	return nil
}

// observe counts a generator call outcome and passes err through.
func (e *Engine) observe(purpose string, err *Error) *Error {
	outcome := "ok"
	if err != nil {
		outcome = string(err.Kind)
	}
	metrics.GeneratorCalls.WithLabelValues(purpose, outcome).Inc()
	return err
}

func (e *Engine) fail(from State, err *Error) error {
	e.state = StateFailed
	e.resume = from
	e.lastErr = err
	slog.Warn("checkup transition failed",
		"subject_id", e.subjectID,
		"from", from,
		"kind", err.Kind,
		"answered", len(e.answers),
		"error", err.Err,
	)
	return err
}

func formatQuestion(q model.QuestionPrompt) string {
	opts := make([]string, len(q.Options))
	for i, o := range q.Options {
		opts[i] = o.Text
	}
	return q.Text + " (options: " + strings.Join(opts, " / ") + ")"
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Mode returns the checkup mode.
func (e *Engine) Mode() model.CheckupMode { return e.mode }

// SubjectID returns the subject the engine was started for.
func (e *Engine) SubjectID() int64 { return e.subjectID }

// ResumeState returns the state a failed transition will be retried from.
func (e *Engine) ResumeState() State {
	if e.state != StateFailed {
		return ""
	}
	return e.resume
}

// CurrentQuestion returns the question awaiting an answer, or nil.
func (e *Engine) CurrentQuestion() *model.QuestionPrompt {
	if e.current == nil {
		return nil
	}
	q := *e.current
	q.Options = append([]model.Option(nil), e.current.Options...)
	return &q
}

// CurrentReport returns the generated report, or nil.
func (e *Engine) CurrentReport() *model.Report {
	if e.report == nil {
		return nil
	}
	r := *e.report
	r.Scores = append([]int(nil), e.report.Scores...)
	return &r
}

// LastError returns the error that put the engine in StateFailed, or nil.
func (e *Engine) LastError() *Error { return e.lastErr }

// PublishError returns the last publish failure, or nil once published.
func (e *Engine) PublishError() *Error { return e.publishErr }

// Published reports whether the report reached the store, and its ID.
func (e *Engine) Published() (bool, int64) { return e.published, e.reportID }

// Answers returns a copy of the recorded answers.
func (e *Engine) Answers() []model.AnsweredQuestion {
	return append([]model.AnsweredQuestion(nil), e.answers...)
}

// History returns a copy of the dialogue history.
func (e *Engine) History() []model.Turn {
	return append([]model.Turn(nil), e.history...)
}
