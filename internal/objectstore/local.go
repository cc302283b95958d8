package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// LocalStore — объектное хранилище на локальном диске.
// Объекты публикуются через Handler() под префиксом /media/.
type LocalStore struct {
	// root — корневая директория хранения объектов
	root string
	// publicURL — базовый URL публикации объектов
	publicURL string
}

// NewLocalStore создаёт локальное хранилище. Проверяет и создаёт
// директорию, если она не существует.
func NewLocalStore(root, publicURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища %s: %w", root, err)
	}

	// Проверяем доступность на запись через temp файл
	testFile := filepath.Join(root, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория хранилища %s недоступна для записи: %w", root, err)
	}
	os.Remove(testFile)

	return &LocalStore{root: root, publicURL: publicURL}, nil
}

// Backend возвращает имя бэкенда.
func (s *LocalStore) Backend() string { return "local" }

// Put записывает объект с подсчётом SHA-256 на лету.
//
// Паттерн: уникальный temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется. Параллельные Put одного ключа не
// смешивают данные: побеждает последний rename.
func (s *LocalStore) Put(ctx context.Context, key, contentType string, r io.Reader) (*Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания папки %s: %w", filepath.Dir(key), err)
	}
	// Ключи записей фиксированы, поэтому у каждой записи свой temp файл
	f, err := os.CreateTemp(filepath.Dir(fullPath), filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()
	if err := f.Chmod(0o640); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка установки прав временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	return &Object{
		Key:      key,
		URL:      versionedURL(s.publicURL, key, checksum),
		Size:     size,
		Checksum: checksum,
	}, nil
}

// Delete удаляет объект. Возвращает nil, если объект уже не существует.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := os.Remove(s.fullPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", key, err)
	}
	return nil
}

// DeleteFolder удаляет пустую папку. Отсутствующая папка — не ошибка.
func (s *LocalStore) DeleteFolder(_ context.Context, prefix string) error {
	if err := ValidateKey(prefix); err != nil {
		return err
	}
	err := os.Remove(s.fullPath(prefix))
	switch {
	case err == nil, os.IsNotExist(err):
		return nil
	case errors.Is(err, syscall.ENOTEMPTY), errors.Is(err, syscall.EEXIST):
		return fmt.Errorf("%w: %s", ErrFolderNotEmpty, prefix)
	default:
		return fmt.Errorf("ошибка удаления папки %s: %w", prefix, err)
	}
}

// Exists проверяет существование объекта на диске.
func (s *LocalStore) Exists(key string) bool {
	if ValidateKey(key) != nil {
		return false
	}
	_, err := os.Stat(s.fullPath(key))
	return err == nil
}

// Handler возвращает HTTP-обработчик раздачи объектов.
// Временные файлы и листинг директорий не отдаются.
func (s *LocalStore) Handler() http.Handler {
	fileServer := http.FileServer(http.Dir(s.root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || strings.HasSuffix(r.URL.Path, ".tmp") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		fileServer.ServeHTTP(w, r)
	})
}

// Root возвращает корневую директорию хранилища.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) fullPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
