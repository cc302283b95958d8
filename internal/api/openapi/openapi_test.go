package openapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
)

func TestLoad_Valid(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}

	for _, path := range []string{
		"/auth", "/logout", "/check-session",
		"/supervisor", "/inspector", "/api/update-all-qr",
		"/{kind}/", "/{kind}/insert", "/{kind}/list",
		"/{kind}/view/{publicId}", "/{kind}/edit/{publicId}",
		"/{kind}/update/{publicId}", "/{kind}/delete/{publicId}",
	} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("путь %s отсутствует в контракте", path)
		}
	}
}

func TestKindEnumMatchesRegistry(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ref, ok := doc.Components.Schemas["KindName"]
	if !ok || ref.Value == nil {
		t.Fatal("схема KindName не найдена")
	}

	enum := map[string]bool{}
	for _, v := range ref.Value.Enum {
		enum[v.(string)] = true
	}
	names := model.KindNames()
	if len(enum) != len(names) {
		t.Errorf("KindName enum = %v, виды = %v", ref.Value.Enum, names)
	}
	for _, name := range names {
		if !enum[name] {
			t.Errorf("вид %s отсутствует в KindName", name)
		}
	}
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/openapi.yaml", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.Len() != len(Bytes()) {
		t.Errorf("размер ответа %d, ожидается %d", rec.Body.Len(), len(Bytes()))
	}
}
