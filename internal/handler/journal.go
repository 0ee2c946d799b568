package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/mindcheck/internal/journal"
	"github.com/pavelanni/mindcheck/internal/llm"
	"github.com/pavelanni/mindcheck/internal/model"
)

func (h *Handler) handleListJournal(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	entries, err := h.journal.List(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to list journal", "user_id", user.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleSaveJournal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	user := model.UserFromContext(r.Context())
	e, err := h.journal.Save(r.Context(), user.ID, req.Text)
	switch {
	case errors.Is(err, journal.ErrEmptyEntry):
		writeError(w, r, http.StatusBadRequest, "ErrEmptyEntry")
	case errors.Is(err, journal.ErrEntryTooLong):
		writeError(w, r, http.StatusBadRequest, "ErrEntryTooLong")
	case err != nil:
		slog.Error("failed to save journal entry", "user_id", user.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
	default:
		writeJSON(w, http.StatusCreated, e)
	}
}

func (h *Handler) handleInsight(w http.ResponseWriter, r *http.Request) {
	entryID, ok := int64Param(r, "entryID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	user := model.UserFromContext(r.Context())
	insight, err := h.journal.Insight(r.Context(), user.ID, entryID)
	switch {
	case errors.Is(err, journal.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "ErrEntryNotFound")
	case errors.Is(err, journal.ErrEmptyInsight):
		writeError(w, r, http.StatusBadGateway, "ErrEmptyInsight")
	case err != nil:
		writeGeneratorError(w, r, err, "journal insight failed", "user_id", user.ID, "entry_id", entryID)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"entry_id": entryID, "insight": insight})
	}
}

// writeGeneratorError maps a generator failure to a 502 with the matching
// message. Anything else is logged and reported as a 500.
func writeGeneratorError(w http.ResponseWriter, r *http.Request, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusBadGateway, "ErrRateLimited")
	case errors.Is(err, llm.ErrUnavailable):
		writeError(w, r, http.StatusBadGateway, "ErrGeneratorUnavailable")
	default:
		slog.Error(msg, append(args, "error", err)...)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
	}
}
