// Пакет objectstore — объектное хранилище артефактов записей
// (фотографии и QR-коды). Бэкенды: локальная файловая система и
// Google Cloud Storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Ошибки хранилища.
var (
	// ErrInvalidKey — недопустимое имя объекта.
	ErrInvalidKey = errors.New("недопустимое имя объекта")
	// ErrFolderNotEmpty — папка содержит объекты и не может быть удалена.
	ErrFolderNotEmpty = errors.New("папка не пуста")
)

// Object — результат записи объекта.
type Object struct {
	// Key — имя объекта (<folder>/<publicId>/<name>)
	Key string
	// URL — публичная ссылка с версией содержимого
	URL string
	// Size — размер в байтах
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// Store — объектное хранилище. Запись по существующему имени
// перезаписывает объект; удаление отсутствующего объекта успешно.
type Store interface {
	// Put записывает объект и возвращает его публичную ссылку.
	Put(ctx context.Context, key, contentType string, r io.Reader) (*Object, error)
	// Delete удаляет объект по имени.
	Delete(ctx context.Context, key string) error
	// DeleteFolder удаляет пустую папку.
	DeleteFolder(ctx context.Context, prefix string) error
	// Backend возвращает имя бэкенда (для логов и метрик).
	Backend() string
}

// ValidateKey проверяет имя объекта: относительный путь без "..",
// пустых сегментов и обратных слэшей.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// versionedURL формирует ссылку на объект с версией содержимого,
// чтобы перезаписанный объект не отдавался из кэша браузера.
func versionedURL(base, key, checksum string) string {
	u := strings.TrimRight(base, "/") + "/" + key
	if len(checksum) >= 12 {
		u += "?v=" + checksum[:12]
	}
	return u
}
