package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCSStore — объектное хранилище в бакете Google Cloud Storage
// (JSON API). Папки в GCS виртуальные: пустая папка не существует.
type GCSStore struct {
	svc       *storage.Service
	bucket    string
	publicURL string
}

// NewGCSStore создаёт клиент GCS. opts — опции клиента
// (учётные данные, endpoint для тестов).
func NewGCSStore(ctx context.Context, bucket, publicURL string, opts ...option.ClientOption) (*GCSStore, error) {
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента GCS: %w", err)
	}
	return &GCSStore{svc: svc, bucket: bucket, publicURL: publicURL}, nil
}

// NewGCSStoreFromCredentials создаёт клиент GCS по JSON-ключу сервисного аккаунта.
func NewGCSStoreFromCredentials(ctx context.Context, bucket, publicURL, credentialsFile string) (*GCSStore, error) {
	return NewGCSStore(ctx, bucket, publicURL,
		option.WithCredentialsFile(credentialsFile), //nolint:staticcheck // ключ задаётся администратором
		option.WithScopes(storage.DevstorageReadWriteScope),
	)
}

// Backend возвращает имя бэкенда.
func (s *GCSStore) Backend() string { return "gcs" }

// Put загружает объект в бакет, перезаписывая существующий.
func (s *GCSStore) Put(ctx context.Context, key, contentType string, r io.Reader) (*Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	hasher := sha256.New()
	obj := &storage.Object{
		Name:         key,
		ContentType:  contentType,
		CacheControl: "public, max-age=300",
	}

	res, err := s.svc.Objects.Insert(s.bucket, obj).
		Media(io.TeeReader(r, hasher), googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки объекта %s в GCS: %w", key, err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	return &Object{
		Key:      key,
		URL:      versionedURL(s.publicURL, key, checksum),
		Size:     int64(res.Size),
		Checksum: checksum,
	}, nil
}

// Delete удаляет объект. Отсутствующий объект (404) — не ошибка.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := s.svc.Objects.Delete(s.bucket, key).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s из GCS: %w", key, err)
	}
	return nil
}

// DeleteFolder проверяет, что под префиксом не осталось объектов.
// Виртуальная папка исчезает вместе с последним объектом.
func (s *GCSStore) DeleteFolder(ctx context.Context, prefix string) error {
	if err := ValidateKey(prefix); err != nil {
		return err
	}
	res, err := s.svc.Objects.List(s.bucket).
		Prefix(prefix + "/").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("ошибка чтения папки %s в GCS: %w", prefix, err)
	}
	if len(res.Items) > 0 {
		return fmt.Errorf("%w: %s", ErrFolderNotEmpty, prefix)
	}
	return nil
}

// isNotFound проверяет ответ GCS 404.
func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
