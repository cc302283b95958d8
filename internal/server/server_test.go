package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Arsalanbashir831/ATECOWQT/internal/api/handlers"
	"github.com/Arsalanbashir831/ATECOWQT/internal/api/middleware"
	"github.com/Arsalanbashir831/ATECOWQT/internal/api/openapi"
	"github.com/Arsalanbashir831/ATECOWQT/internal/auth"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
	"github.com/Arsalanbashir831/ATECOWQT/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// emptyRecords — RecordManager без записей.
type emptyRecords struct{}

func (emptyRecords) Insert(context.Context, service.InsertParams) (*model.Record, error) {
	return nil, service.ErrValidation
}

func (emptyRecords) Get(_ context.Context, _ *model.Kind, id string) (*model.Record, error) {
	return nil, service.ErrNotFound
}

func (emptyRecords) View(_ context.Context, _ *model.Kind, id string) (*model.Record, error) {
	return nil, service.ErrNotFound
}

func (emptyRecords) Update(context.Context, service.UpdateParams) (*model.Record, error) {
	return nil, service.ErrNotFound
}

func (emptyRecords) Delete(context.Context, *model.Kind, string) error {
	return service.ErrNotFound
}

func (emptyRecords) List(context.Context, *model.Kind, int, int) ([]*model.Record, int, error) {
	return []*model.Record{}, 0, nil
}

func (emptyRecords) Dashboard(context.Context) ([]service.KindSummary, error) {
	return []service.KindSummary{}, nil
}

func (emptyRecords) RegenerateQR(context.Context, ...*model.Kind) ([]service.RegenerateResult, error) {
	return []service.RegenerateResult{}, nil
}

type testServer struct {
	router   chi.Router
	sessions *auth.SessionManager
}

func newTestServer(t *testing.T, media http.Handler) *testServer {
	t.Helper()
	sessions, err := auth.NewSessionManager("server-test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	creds, err := auth.NewStaticCredentialStore()
	if err != nil {
		t.Fatal(err)
	}
	logger := testLogger()
	h := handlers.NewAPIHandler(handlers.NewHealthHandler(nil, nil), emptyRecords{}, creds, sessions,
		handlers.Options{BaseViewURL: "https://wqt.example.com", MaxPhotoSize: 1 << 20}, logger)
	authMW := middleware.NewAuth(auth.NewAuthenticator(sessions, nil), logger)

	return &testServer{router: NewRouter(logger, h, authMW, media), sessions: sessions}
}

func (s *testServer) token(t *testing.T, role string) string {
	t.Helper()
	tok, _, err := s.sessions.Issue(role+"-user", role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestRouter_AccessMatrix(t *testing.T) {
	s := newTestServer(t, nil)
	sup := s.token(t, rbac.RoleSupervisor)
	ins := s.token(t, rbac.RoleInspector)

	tests := []struct {
		method string
		path   string
		token  string
		want   int
	}{
		// Публичные
		{http.MethodGet, "/health/live", "", http.StatusOK},
		{http.MethodGet, "/api/openapi.yaml", "", http.StatusOK},
		{http.MethodGet, "/check-session", "", http.StatusOK},
		{http.MethodGet, "/card/view/c-1", "", http.StatusNotFound},

		// Списки: обе роли
		{http.MethodGet, "/card/list", "", http.StatusUnauthorized},
		{http.MethodGet, "/card/list", ins, http.StatusOK},
		{http.MethodGet, "/card/list", sup, http.StatusOK},

		// Панели
		{http.MethodGet, "/inspector", ins, http.StatusOK},
		{http.MethodGet, "/inspector", sup, http.StatusForbidden},
		{http.MethodGet, "/supervisor", ins, http.StatusForbidden},
		{http.MethodGet, "/supervisor", sup, http.StatusOK},

		// Изменение записей: только супервизор
		{http.MethodGet, "/card/", ins, http.StatusForbidden},
		{http.MethodGet, "/card/", sup, http.StatusOK},
		{http.MethodPost, "/card/insert", "", http.StatusUnauthorized},
		{http.MethodPost, "/card/insert", ins, http.StatusForbidden},
		{http.MethodGet, "/card/edit/c-1", ins, http.StatusForbidden},
		{http.MethodPost, "/card/update/c-1", ins, http.StatusForbidden},
		{http.MethodPost, "/card/delete/c-1", ins, http.StatusForbidden},
		{http.MethodPost, "/card/delete/c-1", sup, http.StatusNotFound},
		{http.MethodPost, "/api/update-all-qr", ins, http.StatusForbidden},
		{http.MethodPost, "/api/update-all-qr", sup, http.StatusOK},
	}

	for _, tt := range tests {
		name := tt.method + " " + tt.path
		switch tt.token {
		case sup:
			name += " supervisor"
		case ins:
			name += " inspector"
		}
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, ожидается %d, body = %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRouter_SessionCookie(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/check-session", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: s.token(t, rbac.RoleInspector)})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"authenticated":true`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRouter_Media(t *testing.T) {
	media := http.StripPrefix("/media", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	s := newTestServer(t, media)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/cards/c-1/card-c-1.jpg", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "/cards/c-1/card-c-1.jpg" {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

// Каждый маршрут роутера описан в OpenAPI контракте.
func TestRouter_RoutesDocumented(t *testing.T) {
	doc, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, nil)

	err = chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		item := doc.Paths.Find(route)
		if item == nil {
			t.Errorf("маршрут %s %s отсутствует в контракте", method, route)
			return nil
		}
		if item.GetOperation(method) == nil {
			t.Errorf("метод %s для %s отсутствует в контракте", method, route)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
