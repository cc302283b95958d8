package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Arsalanbashir831/ATECOWQT/internal/api/middleware"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
)

func TestLogin(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantRole    string
	}{
		{
			name:        "JSON супервизор",
			contentType: "application/json",
			body:        `{"id":"supervisor@ateco","password":"sup-pass"}`,
			wantStatus:  http.StatusOK,
			wantRole:    rbac.RoleSupervisor,
		},
		{
			name:        "форма инспектор с ролью",
			contentType: "application/x-www-form-urlencoded",
			body:        url.Values{"id": {"inspector@ateco"}, "password": {"ins-pass"}, "user_role": {"inspector"}}.Encode(),
			wantStatus:  http.StatusOK,
			wantRole:    rbac.RoleInspector,
		},
		{
			name:        "неверный пароль",
			contentType: "application/json",
			body:        `{"id":"supervisor@ateco","password":"wrong"}`,
			wantStatus:  http.StatusUnauthorized,
		},
		{
			name:        "неизвестный пользователь",
			contentType: "application/json",
			body:        `{"id":"nobody","password":"sup-pass"}`,
			wantStatus:  http.StatusUnauthorized,
		},
		{
			name:        "роль не совпадает",
			contentType: "application/json",
			body:        `{"id":"inspector@ateco","password":"ins-pass","user_role":"supervisor"}`,
			wantStatus:  http.StatusUnauthorized,
		},
		{
			name:        "недопустимая роль",
			contentType: "application/json",
			body:        `{"id":"inspector@ateco","password":"ins-pass","user_role":"admin"}`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "без пароля",
			contentType: "application/json",
			body:        `{"id":"supervisor@ateco"}`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "битый JSON",
			contentType: "application/json",
			body:        `{`,
			wantStatus:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := httptest.NewRequest(http.MethodPost, "/auth", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := do(t, env.router(nil), req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, ожидается %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			resp := decode[loginResponse](t, rec)
			if resp.User.Role != tt.wantRole || resp.RedirectURL != "/"+tt.wantRole {
				t.Errorf("ответ = %+v", resp)
			}

			var cookie *http.Cookie
			for _, c := range rec.Result().Cookies() {
				if c.Name == middleware.SessionCookieName {
					cookie = c
				}
			}
			if cookie == nil || !cookie.HttpOnly || cookie.Value != resp.Token {
				t.Fatalf("cookie сессии = %+v", cookie)
			}

			p, err := env.sessions.Parse(cookie.Value)
			if err != nil || p.Role != tt.wantRole {
				t.Errorf("Parse(cookie) = %+v, %v", p, err)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	rec := do(t, env.router(supervisor), httptest.NewRequest(http.MethodGet, "/logout", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != middleware.SessionCookieName || cookies[0].MaxAge >= 0 {
		t.Errorf("cookies = %+v", cookies)
	}
}

func TestCheckSession(t *testing.T) {
	env := newTestEnv(t)

	rec := do(t, env.router(nil), httptest.NewRequest(http.MethodGet, "/check-session", nil))
	if got := decode[sessionResponse](t, rec); got.Authenticated {
		t.Errorf("анонимная сессия = %+v", got)
	}

	rec = do(t, env.router(supervisor), httptest.NewRequest(http.MethodGet, "/check-session", nil))
	got := decode[sessionResponse](t, rec)
	if !got.Authenticated || got.User != rbac.RoleSupervisor || got.Name != supervisor.Subject {
		t.Errorf("сессия = %+v", got)
	}
}
