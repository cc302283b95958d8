package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), "http://localhost:4200/media")
	if err != nil {
		t.Fatalf("NewLocalStore() ошибка: %v", err)
	}
	return s
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	key := "cards/c-1/card-c-1.jpg"

	first, err := s.Put(ctx, key, "image/jpeg", strings.NewReader("first"))
	if err != nil {
		t.Fatalf("Put() ошибка: %v", err)
	}
	if first.Size != 5 {
		t.Errorf("Size = %d, ожидается 5", first.Size)
	}
	if !strings.HasPrefix(first.URL, "http://localhost:4200/media/cards/c-1/card-c-1.jpg?v=") {
		t.Errorf("URL = %q", first.URL)
	}

	second, err := s.Put(ctx, key, "image/jpeg", strings.NewReader("second"))
	if err != nil {
		t.Fatalf("повторный Put() ошибка: %v", err)
	}
	if second.URL == first.URL {
		t.Error("URL должен меняться вместе с содержимым")
	}

	data, err := os.ReadFile(filepath.Join(s.Root(), "cards", "c-1", "card-c-1.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("содержимое = %q, ожидается перезапись", data)
	}

	// Одинаковое содержимое — одинаковая ссылка
	again, err := s.Put(ctx, key, "image/jpeg", strings.NewReader("second"))
	if err != nil {
		t.Fatal(err)
	}
	if again.URL != second.URL {
		t.Errorf("URL = %q, ожидается %q", again.URL, second.URL)
	}
}

func TestLocalStore_ConcurrentPutSameKey(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	key := "cards/c-1/card-c-1-qr.png"

	const writers = 8
	const size = 256 << 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			if _, err := s.Put(ctx, key, "image/png", bytes.NewReader(bytes.Repeat([]byte{b}, size))); err != nil {
				t.Errorf("Put() ошибка: %v", err)
			}
		}(byte('a' + i))
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(s.Root(), "cards", "c-1", "card-c-1-qr.png"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != size {
		t.Fatalf("размер = %d, ожидается %d", len(data), size)
	}
	if !bytes.Equal(data, bytes.Repeat(data[:1], size)) {
		t.Error("объект содержит данные нескольких записей")
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), "cards", "c-1"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("остался временный файл %s", e.Name())
		}
	}
}

func TestLocalStore_DeleteIdempotent(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	key := "operators/operator_1/operator-operator_1-qr.png"

	if _, err := s.Put(ctx, key, "image/png", strings.NewReader("png")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if s.Exists(key) {
		t.Error("объект не удалён")
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("повторный Delete() = %v, ожидается nil", err)
	}
}

func TestLocalStore_DeleteFolder(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "cards/c-2/card-c-2.jpg", "image/jpeg", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}

	err := s.DeleteFolder(ctx, "cards/c-2")
	if !errors.Is(err, ErrFolderNotEmpty) {
		t.Fatalf("DeleteFolder() непустой папки = %v, ожидается ErrFolderNotEmpty", err)
	}

	if err := s.Delete(ctx, "cards/c-2/card-c-2.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFolder(ctx, "cards/c-2"); err != nil {
		t.Fatalf("DeleteFolder() ошибка: %v", err)
	}
	if err := s.DeleteFolder(ctx, "cards/c-2"); err != nil {
		t.Errorf("повторный DeleteFolder() = %v, ожидается nil", err)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"cards/c-1/card-c-1.jpg", true},
		{"cards/c-1", true},
		{"", false},
		{"/etc/passwd", false},
		{"cards/../../etc/passwd", false},
		{"cards//c-1", false},
		{"cards/./c-1", false},
		{`cards\c-1`, false},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateKey(%q) = %v, ожидается valid=%v", tt.key, err, tt.valid)
		}
	}
}

func TestLocalStore_Handler(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "cards/c-1/card-c-1-qr.png", "image/png", strings.NewReader("qr-bytes")); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.StripPrefix("/media", s.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/media/cards/c-1/card-c-1-qr.png")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "qr-bytes" {
		t.Errorf("GET объекта = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/media/cards/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("листинг папки = %d, ожидается 404", resp.StatusCode)
	}
}
