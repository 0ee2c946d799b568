package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mindcheck/internal/model"
	"github.com/pavelanni/mindcheck/internal/store"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
	minPasswordLength = 8
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// csrfMiddleware implements double-submit tokens: safe requests get a
// csrf_token cookie, and every other request must echo it in X-CSRF-Token.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(csrfCookieName)
		hasCookie := err == nil && cookie.Value != ""

		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			token := ""
			if hasCookie {
				token = cookie.Value
			} else {
				token, err = generateCSRFToken()
				if err != nil {
					slog.Error("failed to generate CSRF token", "error", err)
					writeError(w, r, http.StatusInternalServerError, "ErrInternal")
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     h.cookiePath(),
					HttpOnly: false,
					Secure:   h.config.SecureCookies,
					SameSite: http.SameSiteLaxMode,
				})
			}
			ctx := model.ContextWithCSRFToken(r.Context(), token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if !hasCookie {
			slog.Warn("CSRF cookie missing", "path", r.URL.Path)
			writeError(w, r, http.StatusForbidden, "ErrCSRF")
			return
		}
		headerToken := r.Header.Get(csrfHeaderName)
		if headerToken == "" {
			slog.Warn("CSRF header missing", "path", r.URL.Path)
			writeError(w, r, http.StatusForbidden, "ErrCSRF")
			return
		}
		if len(headerToken) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch", "path", r.URL.Path)
			writeError(w, r, http.StatusForbidden, "ErrCSRF")
			return
		}

		ctx := model.ContextWithCSRFToken(r.Context(), cookie.Value)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"token": model.CSRFTokenFromContext(r.Context())})
}

// requireAuth is middleware that checks for a valid session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}

		user, _, err := h.store.GetSessionUser(cookie.Value)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}
		if user == nil {
			writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, http.StatusForbidden, "ErrForbidden")
		})
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registration struct {
	credentials
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	StudentID   string `json:"student_id"`
	ClassName   string `json:"class_name"`
	Section     string `json:"section"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.config.AllowSignup {
		writeError(w, r, http.StatusForbidden, "ErrSignupDisabled")
		return
	}

	var req registration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.ClassName = strings.TrimSpace(req.ClassName)
	if req.Username == "" || req.ClassName == "" || utf8.RuneCountInString(req.Password) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, "ErrMissingFields")
		return
	}

	u, err := h.createUser(model.User{
		Username:    req.Username,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Email:       strings.TrimSpace(req.Email),
		Role:        model.UserRoleStudent,
		Active:      true,
		StudentID:   strings.TrimSpace(req.StudentID),
		ClassName:   req.ClassName,
		Section:     strings.TrimSpace(req.Section),
	}, req.Password)
	if store.IsUniqueViolation(err) {
		writeError(w, r, http.StatusConflict, "ErrUsernameTaken")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	if !h.startSession(w, r, u) {
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// createUser hashes password and stores u, returning the stored user.
func (h *Handler) createUser(u model.User, password string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		return nil, err
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
	u.PasswordHash = string(hash)

	id, err := h.store.CreateUser(u)
	if err != nil {
		return nil, err
	}
	return h.store.GetUserByID(id)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	user, err := h.store.GetUserByUsername(strings.TrimSpace(req.Username))
	if err != nil {
		slog.Error("failed to get user", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if user == nil || !user.Active {
		writeError(w, r, http.StatusUnauthorized, "ErrInvalidCredentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, r, http.StatusUnauthorized, "ErrInvalidCredentials")
		return
	}

	if !h.startSession(w, r, user) {
		return
	}
	slog.Info("user logged in", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, u *model.User) bool {
	token, err := h.store.CreateAuthSession(u.ID, store.DefaultAuthSessionTTL)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	return true
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.store.DeleteAuthSession(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}
