package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/mindcheck/internal/checkup"
	"github.com/pavelanni/mindcheck/internal/model"
	"github.com/pavelanni/mindcheck/internal/store"
)

func (h *Handler) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	role := model.UserRole(r.URL.Query().Get("role"))
	users, err := h.store.ListUsers(role)
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type newUserRequest struct {
	registration
	Role model.UserRole `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req newUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || utf8.RuneCountInString(req.Password) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, "ErrMissingFields")
		return
	}
	switch req.Role {
	case "":
		req.Role = model.UserRoleStudent
	case model.UserRoleStudent, model.UserRoleCounselor, model.UserRoleAdmin:
	default:
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	u, err := h.createUser(model.User{
		Username:    req.Username,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Email:       strings.TrimSpace(req.Email),
		Role:        req.Role,
		Active:      true,
		StudentID:   strings.TrimSpace(req.StudentID),
		ClassName:   strings.TrimSpace(req.ClassName),
		Section:     strings.TrimSpace(req.Section),
	}, req.Password)
	if store.IsUniqueViolation(err) {
		writeError(w, r, http.StatusConflict, "ErrUsernameTaken")
		return
	}
	if err != nil {
		slog.Error("failed to create user", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "userID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if me := model.UserFromContext(r.Context()); me.ID == id {
		writeError(w, r, http.StatusForbidden, "ErrForbidden")
		return
	}

	if err := h.store.ToggleUserActive(id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	u, err := h.store.GetUserByID(id)
	if err != nil {
		slog.Error("failed to get user", "id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if u == nil {
		writeError(w, r, http.StatusNotFound, "ErrUserNotFound")
		return
	}
	slog.Info("toggled user active", "id", id, "active", u.Active)
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) handleAdminUserReports(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "userID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	u, err := h.store.GetUserByID(id)
	if err != nil {
		slog.Error("failed to get user", "id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if u == nil {
		writeError(w, r, http.StatusNotFound, "ErrUserNotFound")
		return
	}
	h.writeReports(w, r, id)
}

// handleUploadQuestions replaces the static questionnaire. The file comes
// either as the multipart field questions_file or as a raw JSON body.
func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	var (
		data []byte
		name = "upload.json"
		err  error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
			return
		}
		file, header, err := r.FormFile("questions_file")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
			return
		}
		defer file.Close()
		name = header.Filename
		data, err = io.ReadAll(file)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
			return
		}
	} else {
		data, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
			return
		}
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	storedHash, err := h.store.GetImportedFileHash(name)
	if err != nil {
		slog.Error("failed to check import status", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if storedHash == hash {
		writeJSON(w, http.StatusOK, map[string]any{"imported": 0, "duplicate": true})
		return
	}

	questions, err := checkup.ParseQuestionnaire(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{
			"error": {Code: "ErrBadRequest", Message: err.Error()},
		})
		return
	}
	if err := h.store.ReplaceQuestions(r.Context(), questions); err != nil {
		slog.Error("failed to store questions", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if err := h.store.SetImportedFileHash(name, hash); err != nil {
		slog.Error("failed to record import", "error", err)
	}

	slog.Info("uploaded questions via admin", "filename", name, "count", len(questions))
	writeJSON(w, http.StatusOK, map[string]any{"imported": len(questions), "duplicate": false})
}
