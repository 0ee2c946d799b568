package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mindcheck/internal/checkup"
	appI18n "github.com/pavelanni/mindcheck/internal/i18n"
	"github.com/pavelanni/mindcheck/internal/model"
)

type errorView struct {
	Kind    checkup.ErrorKind `json:"kind"`
	Message string            `json:"message"`
}

// checkupView is what a client sees of a checkup session.
type checkupView struct {
	ID           string                `json:"id"`
	State        checkup.State         `json:"state"`
	Mode         model.CheckupMode     `json:"mode"`
	Question     *model.QuestionPrompt `json:"question,omitempty"`
	Progress     string                `json:"progress,omitempty"`
	Answered     int                   `json:"answered"`
	Total        int                   `json:"total"`
	Report       *model.Report         `json:"report,omitempty"`
	Published    bool                  `json:"published"`
	ReportID     int64                 `json:"report_id,omitempty"`
	Error        *errorView            `json:"error,omitempty"`
	PublishError *errorView            `json:"publish_error,omitempty"`
}

func newErrorView(ctx context.Context, err *checkup.Error) *errorView {
	if err == nil {
		return nil
	}
	return &errorView{Kind: err.Kind, Message: appI18n.T(ctx, err.Kind.MessageID())}
}

func buildView(ctx context.Context, id string, e *checkup.Engine) checkupView {
	published, reportID := e.Published()
	v := checkupView{
		ID:           id,
		State:        e.State(),
		Mode:         e.Mode(),
		Question:     e.CurrentQuestion(),
		Answered:     len(e.Answers()),
		Total:        checkup.QuestionCount,
		Report:       e.CurrentReport(),
		Published:    published,
		ReportID:     reportID,
		Error:        newErrorView(ctx, e.LastError()),
		PublishError: newErrorView(ctx, e.PublishError()),
	}
	if v.Question != nil {
		v.Progress = appI18n.Td(ctx, "QuestionProgress", map[string]any{
			"Number": v.Answered + 1,
			"Total":  v.Total,
		})
	}
	return v
}

// statusFor maps the outcome of an engine operation to an HTTP status.
func statusFor(err error, ok int) int {
	var ce *checkup.Error
	switch {
	case err == nil:
		return ok
	case errors.As(err, &ce) && ce.Kind == checkup.KindPublishError:
		return http.StatusInternalServerError
	case errors.As(err, &ce):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// runCheckup applies op (which may be nil) to the caller's session and
// responds with the resulting view.
func (h *Handler) runCheckup(w http.ResponseWriter, r *http.Request, id string, ok int, op func(context.Context, *checkup.Engine) error) {
	user := model.UserFromContext(r.Context())

	var (
		view   checkupView
		ran    bool
		opErr  error
		reqCtx = r.Context()
	)
	err := h.checkups.Do(reqCtx, id, user.ID, func(ctx context.Context, e *checkup.Engine) error {
		ran = true
		if op != nil {
			opErr = op(ctx, e)
		}
		view = buildView(reqCtx, id, e)
		return opErr
	})
	if !ran {
		if errors.Is(err, checkup.ErrSessionNotFound) {
			writeError(w, r, http.StatusNotFound, "ErrSessionNotFound")
			return
		}
		slog.Error("checkup operation failed", "session_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	h.writeCheckup(w, r, view, opErr, ok)
}

func (h *Handler) writeCheckup(w http.ResponseWriter, r *http.Request, view checkupView, opErr error, ok int) {
	switch {
	case errors.Is(opErr, checkup.ErrInvalidOption):
		writeError(w, r, http.StatusBadRequest, "ErrInvalidOption")
		return
	case errors.Is(opErr, checkup.ErrInvalidState):
		writeError(w, r, http.StatusConflict, "ErrInvalidState")
		return
	}
	if checkup.KindOf(opErr) == checkup.KindGeneratorRateLimited {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, statusFor(opErr, ok), view)
}

type startRequest struct {
	Mode model.CheckupMode `json:"mode"`
}

func (h *Handler) handleStartCheckup(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	switch req.Mode {
	case "":
		req.Mode = model.ModeAdaptive
	case model.ModeAdaptive, model.ModeStatic:
	default:
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	user := model.UserFromContext(r.Context())
	id, startErr := h.checkups.Create(r.Context(), user.ID, req.Mode)

	var view checkupView
	err := h.checkups.Do(r.Context(), id, user.ID, func(_ context.Context, e *checkup.Engine) error {
		view = buildView(r.Context(), id, e)
		return nil
	})
	if err != nil {
		slog.Error("checkup vanished after start", "session_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	w.Header().Set("Location", model.BasePathFromContext(r.Context())+"/api/checkups/"+id)
	h.writeCheckup(w, r, view, startErr, http.StatusCreated)
}

func (h *Handler) handleGetCheckup(w http.ResponseWriter, r *http.Request) {
	h.runCheckup(w, r, chi.URLParam(r, "sessionID"), http.StatusOK, nil)
}

type answerRequest struct {
	Option *int `json:"option"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil || req.Option == nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	h.runCheckup(w, r, chi.URLParam(r, "sessionID"), http.StatusOK, func(ctx context.Context, e *checkup.Engine) error {
		return e.Answer(ctx, *req.Option)
	})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	h.runCheckup(w, r, chi.URLParam(r, "sessionID"), http.StatusOK, func(ctx context.Context, e *checkup.Engine) error {
		return e.Retry(ctx)
	})
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	h.runCheckup(w, r, chi.URLParam(r, "sessionID"), http.StatusOK, func(ctx context.Context, e *checkup.Engine) error {
		return e.Publish(ctx)
	})
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	if err := h.checkups.Abort(chi.URLParam(r, "sessionID"), user.ID); err != nil {
		writeError(w, r, http.StatusNotFound, "ErrSessionNotFound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
