package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mindcheck/internal/checkup"
	"github.com/pavelanni/mindcheck/internal/counsel"
	appI18n "github.com/pavelanni/mindcheck/internal/i18n"
	"github.com/pavelanni/mindcheck/internal/journal"
	"github.com/pavelanni/mindcheck/internal/model"
	"github.com/pavelanni/mindcheck/internal/mood"
	"github.com/pavelanni/mindcheck/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	checkups *checkup.Manager
	journal  *journal.Service
	counsel  *counsel.Service
	mood     *mood.Service
	config   model.ServerConfig
}

// New creates a new Handler.
func New(s *store.Store, m *checkup.Manager, j *journal.Service, c *counsel.Service, md *mood.Service, cfg model.ServerConfig) *Handler {
	return &Handler{store: s, checkups: m, journal: j, counsel: c, mood: md, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.csrfMiddleware)

		r.Get("/csrf", h.handleCSRF)
		r.Get("/languages", h.handleLanguages)
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/logout", h.handleLogout)
			r.Get("/me", h.handleMe)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleStudent))
				r.Post("/checkups", h.handleStartCheckup)
				r.Get("/checkups/{sessionID}", h.handleGetCheckup)
				r.Post("/checkups/{sessionID}/answer", h.handleAnswer)
				r.Post("/checkups/{sessionID}/retry", h.handleRetry)
				r.Post("/checkups/{sessionID}/publish", h.handlePublish)
				r.Delete("/checkups/{sessionID}", h.handleAbort)
				r.Get("/reports", h.handleListReports)
				r.Get("/journal", h.handleListJournal)
				r.Post("/journal", h.handleSaveJournal)
				r.Post("/journal/{entryID}/insight", h.handleInsight)
				r.Post("/ask", h.handleAsk)
				r.Get("/mood", h.handleListMood)
				r.Post("/mood", h.handleRecordMood)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin, model.UserRoleCounselor))
				r.Get("/users", h.handleAdminListUsers)
				r.Get("/users/{userID}/reports", h.handleAdminUserReports)

				r.Group(func(r chi.Router) {
					r.Use(requireRole(model.UserRoleAdmin))
					r.Post("/users", h.handleCreateUser)
					r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
					r.Post("/questions", h.handleUploadQuestions)
				})
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": appI18n.Languages()})
}

func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	h.writeReports(w, r, user.ID)
}

func (h *Handler) writeReports(w http.ResponseWriter, r *http.Request, userID int64) {
	reports, err := h.store.ListReports(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list reports", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if reports == nil {
		reports = []model.StoredReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"summary": appI18n.Tp(r.Context(), "ReportsCount", len(reports)),
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prepends the configured base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	return h.path("/")
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError sends a localized error message.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: msgID, Message: appI18n.T(r.Context(), msgID)},
	})
}

// decodeJSON reads a JSON request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func int64Param(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}
