package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Arsalanbashir831/ATECOWQT/internal/api/middleware"
	"github.com/Arsalanbashir831/ATECOWQT/internal/auth"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
	"github.com/Arsalanbashir831/ATECOWQT/internal/service"
)

const testBaseViewURL = "https://wqt.example.com/"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRecords — RecordManager в памяти.
type fakeRecords struct {
	mu      sync.Mutex
	records map[string]*model.Record
	seq     map[string]int64

	err      error // ошибка для всех операций записи
	regen    []service.RegenerateResult
	regenErr error

	lastInsert *service.InsertParams
	lastUpdate *service.UpdateParams
	lastPhoto  []byte
	lastLimit  int
	lastOffset int
	regenKinds []string
	calls      int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: map[string]*model.Record{}, seq: map[string]int64{}}
}

func (f *fakeRecords) add(kind *model.Kind, fields model.Fields) *model.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq[kind.Name]++
	n := f.seq[kind.Name]
	rec := &model.Record{
		Kind:           kind.Name,
		SequenceNumber: n,
		PublicID:       kind.DeriveID(n),
		QRCodeURL:      "https://objects.test/" + kind.QRObject(kind.DeriveID(n)),
		Fields:         fields,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, int(n), 0, time.UTC),
	}
	f.records[kind.Name+"/"+rec.PublicID] = rec
	return rec
}

func (f *fakeRecords) Insert(_ context.Context, p service.InsertParams) (*model.Record, error) {
	f.mu.Lock()
	f.calls++
	f.lastInsert = &p
	if p.Photo != nil {
		f.lastPhoto, _ = io.ReadAll(p.Photo.Reader)
	}
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	fields := model.Fields{}
	for k, v := range p.Fields {
		fields[k] = v
	}
	rec := f.add(p.Kind, fields)
	rec.CreatedBy = p.Actor
	return rec, nil
}

func (f *fakeRecords) Get(_ context.Context, kind *model.Kind, publicID string) (*model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	rec, ok := f.records[kind.Name+"/"+publicID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrNotFound, publicID)
	}
	return rec, nil
}

func (f *fakeRecords) View(ctx context.Context, kind *model.Kind, publicID string) (*model.Record, error) {
	return f.Get(ctx, kind, publicID)
}

func (f *fakeRecords) Update(ctx context.Context, p service.UpdateParams) (*model.Record, error) {
	f.mu.Lock()
	f.lastUpdate = &p
	if p.Photo != nil {
		f.lastPhoto, _ = io.ReadAll(p.Photo.Reader)
	}
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	rec, err := f.Get(ctx, p.Kind, p.PublicID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.Fields = model.Fields{}
	for k, v := range p.Fields {
		rec.Fields[k] = v
	}
	rec.UpdatedBy = p.Actor
	return rec, nil
}

func (f *fakeRecords) Delete(ctx context.Context, kind *model.Kind, publicID string) error {
	if _, err := f.Get(ctx, kind, publicID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.records, kind.Name+"/"+publicID)
	return nil
}

func (f *fakeRecords) List(_ context.Context, kind *model.Kind, limit, offset int) ([]*model.Record, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit, f.lastOffset = limit, offset
	if f.err != nil {
		return nil, 0, f.err
	}
	var out []*model.Record
	for n := f.seq[kind.Name]; n >= 1; n-- {
		if rec, ok := f.records[kind.Name+"/"+kind.DeriveID(n)]; ok {
			out = append(out, rec)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return []*model.Record{}, total, nil
	}
	return out[offset:min(offset+limit, len(out))], total, nil
}

func (f *fakeRecords) Dashboard(ctx context.Context) ([]service.KindSummary, error) {
	var out []service.KindSummary
	for _, kind := range model.Kinds() {
		recs, total, err := f.List(ctx, kind, 1000, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, service.KindSummary{Kind: kind.Name, Title: kind.Title, Total: total, Records: recs})
	}
	return out, nil
}

func (f *fakeRecords) RegenerateQR(_ context.Context, kinds ...*model.Kind) ([]service.RegenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regenKinds = nil
	for _, k := range kinds {
		f.regenKinds = append(f.regenKinds, k.Name)
	}
	return f.regen, f.regenErr
}

// --- Окружение ---

type testEnv struct {
	handler  *APIHandler
	records  *fakeRecords
	sessions *auth.SessionManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	supHash, err := auth.HashPassword("sup-pass", 4)
	if err != nil {
		t.Fatal(err)
	}
	insHash, err := auth.HashPassword("ins-pass", 4)
	if err != nil {
		t.Fatal(err)
	}
	creds, err := auth.NewStaticCredentialStore(
		auth.Account{ID: "supervisor@ateco", PasswordHash: supHash, Role: rbac.RoleSupervisor},
		auth.Account{ID: "inspector@ateco", PasswordHash: insHash, Role: rbac.RoleInspector},
	)
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := auth.NewSessionManager("handlers-test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	records := newFakeRecords()
	h := NewAPIHandler(NewHealthHandler(nil, nil), records, creds, sessions, Options{
		BaseViewURL:  testBaseViewURL,
		MaxPhotoSize: 1 << 20,
	}, testLogger())

	return &testEnv{handler: h, records: records, sessions: sessions}
}

// router собирает маршруты без проверки ролей; principal (если задан)
// помещается в контекст каждого запроса.
func (e *testEnv) router(principal *auth.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if principal != nil {
				req = req.WithContext(middleware.WithPrincipal(req.Context(), principal))
			}
			next.ServeHTTP(w, req)
		})
	})
	h := e.handler
	r.Post("/auth", h.Login)
	r.Get("/logout", h.Logout)
	r.Get("/check-session", h.CheckSession)
	r.Get("/supervisor", h.SupervisorDashboard)
	r.Get("/inspector", h.InspectorDashboard)
	r.Post("/api/update-all-qr", h.UpdateAllQR)
	r.Get("/{kind}/", h.GetKindSchema)
	r.Post("/{kind}/insert", h.InsertRecord)
	r.Get("/{kind}/list", h.ListRecords)
	r.Get("/{kind}/view/{publicId}", h.ViewRecord)
	r.Get("/{kind}/edit/{publicId}", h.EditRecord)
	r.Post("/{kind}/update/{publicId}", h.UpdateRecord)
	r.Post("/{kind}/delete/{publicId}", h.DeleteRecord)
	return r
}

var supervisor = &auth.Principal{Subject: "supervisor@ateco", Role: rbac.RoleSupervisor, Source: auth.SourceSession}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// multipartBody собирает multipart-форму из полей и одного файла.
func multipartBody(t *testing.T, fields map[string]string, fileField string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, "photo.jpg")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(file); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

// errorCode извлекает код ошибки из JSON-ответа.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("ответ не JSON ошибки: %s", rec.Body.String())
	}
	return body.Error.Code
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("ошибка разбора ответа %s: %v", rec.Body.String(), err)
	}
	return v
}
