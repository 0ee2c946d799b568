package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/mindcheck/internal/counsel"
	appI18n "github.com/pavelanni/mindcheck/internal/i18n"
	"github.com/pavelanni/mindcheck/internal/model"
	"github.com/pavelanni/mindcheck/internal/mood"
)

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	user := model.UserFromContext(r.Context())
	reply, err := h.counsel.Ask(r.Context(), user.ID, req.Message)
	switch {
	case errors.Is(err, counsel.ErrEmptyMessage):
		writeError(w, r, http.StatusBadRequest, "ErrEmptyMessage")
	case errors.Is(err, counsel.ErrMessageTooLong):
		writeError(w, r, http.StatusBadRequest, "ErrMessageTooLong")
	case errors.Is(err, counsel.ErrEmptyReply):
		writeError(w, r, http.StatusBadGateway, "ErrEmptyReply")
	case err != nil:
		writeGeneratorError(w, r, err, "counselor reply failed", "user_id", user.ID)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
	}
}

func (h *Handler) handleRecordMood(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Labels []string `json:"labels"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	user := model.UserFromContext(r.Context())
	rep, err := h.mood.Record(r.Context(), user.ID, req.Labels)
	switch {
	case errors.Is(err, mood.ErrNoFace):
		writeError(w, r, http.StatusBadRequest, "ErrNoFaceDetected")
	case errors.Is(err, mood.ErrUnknownLabel), errors.Is(err, mood.ErrTooManySamples):
		writeError(w, r, http.StatusBadRequest, "ErrBadMoodScan")
	case err != nil:
		slog.Error("failed to record mood", "user_id", user.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
	default:
		writeJSON(w, http.StatusCreated, map[string]any{
			"report":  rep,
			"message": appI18n.Td(r.Context(), "MoodResult", map[string]any{"Mood": rep.Mood}),
		})
	}
}

func (h *Handler) handleListMood(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	reports, err := h.mood.List(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to list mood reports", "user_id", user.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if reports == nil {
		reports = []model.MoodReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}
