// session.go — вход, выход и проверка сессии.
// POST /auth — проверка учётных данных, выпуск сессионного токена (cookie + JSON)
// GET /logout — удаление cookie сессии
// GET /check-session — состояние текущей сессии
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	apierrors "github.com/Arsalanbashir831/ATECOWQT/internal/api/errors"
	"github.com/Arsalanbashir831/ATECOWQT/internal/api/middleware"
	"github.com/Arsalanbashir831/ATECOWQT/internal/auth"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
)

// loginRequest — тело запроса входа (JSON или форма).
type loginRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
	// UserRole — роль, выбранная на форме входа (опционально)
	UserRole string `json:"user_role"`
}

type loginResponse struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	RedirectURL string          `json:"redirectUrl"`
	Token       string          `json:"token"`
	User        *auth.Principal `json:"user"`
}

type sessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	User          string     `json:"user,omitempty"`
	Name          string     `json:"name,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Login — POST /auth.
// Принимает id, password и необязательный user_role (JSON или форма).
// Доступ: публичный.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLogin(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.ID == "" || req.Password == "" {
		apierrors.ValidationError(w, "Укажите идентификатор и пароль")
		return
	}
	if req.UserRole != "" && !rbac.IsValidRole(req.UserRole) {
		apierrors.ValidationError(w, "Некорректная роль: "+req.UserRole)
		return
	}

	role, err := h.credentials.Verify(r.Context(), req.ID, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("Неудачная попытка входа",
				slog.String("id", req.ID),
				slog.String("remote_addr", r.RemoteAddr),
			)
			apierrors.Unauthorized(w, "Неверный идентификатор или пароль")
			return
		}
		h.logger.Error("Ошибка проверки учётных данных", "error", err)
		apierrors.InternalError(w, "Ошибка проверки учётных данных")
		return
	}
	if req.UserRole != "" && req.UserRole != role {
		apierrors.Unauthorized(w, "Неверный идентификатор или пароль")
		return
	}

	token, principal, err := h.sessions.Issue(req.ID, role)
	if err != nil {
		h.logger.Error("Ошибка выпуска сессии", "error", err)
		apierrors.InternalError(w, "Ошибка выпуска сессии")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  principal.ExpiresAt,
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("Пользователь вошёл",
		slog.String("id", principal.Subject),
		slog.String("role", principal.Role),
	)

	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		Message:     "Login successful",
		RedirectURL: "/" + role,
		Token:       token,
		User:        principal,
	})
}

// decodeLogin разбирает тело запроса входа в зависимости от Content-Type.
func decodeLogin(r *http.Request) (*loginRequest, error) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.New("некорректный JSON: " + err.Error())
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, errors.New("некорректная форма: " + err.Error())
	}
	req.ID = r.PostFormValue("id")
	req.Password = r.PostFormValue("password")
	req.UserRole = r.PostFormValue("user_role")
	return &req, nil
}

// Logout — GET /logout.
// Сессионный токен не отзывается на сервере, удаляется только cookie.
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	if p := middleware.PrincipalFromContext(r.Context()); p != nil {
		h.logger.Info("Пользователь вышел", slog.String("id", p.Subject))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// CheckSession — GET /check-session.
// Требует Auth.Optional(): для анонимного запроса возвращает authenticated=false.
func (h *APIHandler) CheckSession(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}
	expires := p.ExpiresAt
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		User:          p.Role,
		Name:          p.Subject,
		ExpiresAt:     &expires,
	})
}
