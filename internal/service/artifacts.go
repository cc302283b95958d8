package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // входные форматы фотографий
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/objectstore"
	"github.com/Arsalanbashir831/ATECOWQT/internal/qrcode"
)

// Параметры артефактов.
const (
	photoContentType = "image/jpeg"
	qrContentType    = "image/png"
	// photoQuality — качество JPEG при перекодировании фотографий
	photoQuality = 90
)

// Photo — фотография из multipart-формы.
type Photo struct {
	// Reader — поток данных файла
	Reader io.Reader
	// Filename — оригинальное имя файла
	Filename string
}

// ArtifactPublisher размещает фотографии и QR-коды записей в
// объектном хранилище и удаляет их.
type ArtifactPublisher struct {
	store        objectstore.Store
	renderer     *qrcode.Renderer
	baseViewURL  string
	timeout      time.Duration
	maxPhotoSize int64
	logger       *slog.Logger
}

// NewArtifactPublisher создаёт публикатор артефактов.
//   - baseViewURL — базовый URL страниц просмотра, кодируется в QR
//   - timeout — таймаут одной операции с хранилищем
//   - maxPhotoSize — максимальный размер фотографии в байтах
func NewArtifactPublisher(
	store objectstore.Store,
	renderer *qrcode.Renderer,
	baseViewURL string,
	timeout time.Duration,
	maxPhotoSize int64,
	logger *slog.Logger,
) *ArtifactPublisher {
	return &ArtifactPublisher{
		store:        store,
		renderer:     renderer,
		baseViewURL:  strings.TrimRight(baseViewURL, "/"),
		timeout:      timeout,
		maxPhotoSize: maxPhotoSize,
		logger:       logger.With(slog.String("component", "artifacts")),
	}
}

// QRPayload возвращает содержимое QR-кода записи:
// <baseViewUrl>/<kind>/view/<publicId>.
func (p *ArtifactPublisher) QRPayload(kind *model.Kind, publicID string) string {
	return p.baseViewURL + kind.ViewPath(publicID)
}

// RenderQR рисует QR-код записи. Не обращается к хранилищу.
func (p *ArtifactPublisher) RenderQR(kind *model.Kind, publicID string) ([]byte, error) {
	data, err := p.renderer.Render(p.QRPayload(kind, publicID))
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации QR-кода %s: %w", publicID, err)
	}
	return data, nil
}

// PreparePhoto читает фотографию, проверяет размер и перекодирует в JPEG.
// Ошибки — ErrValidation или ErrPhotoTooLarge, хранилище не затрагивается.
func (p *ArtifactPublisher) PreparePhoto(photo *Photo) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(photo.Reader, p.maxPhotoSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения фотографии: %v", ErrValidation, err)
	}
	if int64(len(raw)) > p.maxPhotoSize {
		return nil, fmt.Errorf("%w: максимум %d байт", ErrPhotoTooLarge, p.maxPhotoSize)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: пустой файл фотографии", ErrValidation)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: файл %q не является изображением", ErrValidation, photo.Filename)
	}
	if format == "jpeg" {
		return raw, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: photoQuality}); err != nil {
		return nil, fmt.Errorf("ошибка перекодирования фотографии: %w", err)
	}
	return buf.Bytes(), nil
}

// PublishPhoto загружает фотографию записи (перезаписывая прежнюю).
func (p *ArtifactPublisher) PublishPhoto(ctx context.Context, kind *model.Kind, publicID string, data []byte) (*objectstore.Object, error) {
	return p.put(ctx, kind.PhotoObject(publicID), photoContentType, data)
}

// PublishQR загружает QR-код записи (перезаписывая прежний).
func (p *ArtifactPublisher) PublishQR(ctx context.Context, kind *model.Kind, publicID string, data []byte) (*objectstore.Object, error) {
	return p.put(ctx, kind.QRObject(publicID), qrContentType, data)
}

// RemoveObject удаляет один объект. Отсутствие объекта не ошибка.
func (p *ArtifactPublisher) RemoveObject(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.store.Delete(ctx, key)
	p.observe("delete", start, err)
	if err != nil {
		return fmt.Errorf("%w: удаление %s: %v", ErrRemoteStorage, key, err)
	}
	return nil
}

// RemoveFolder удаляет папку артефактов. Ошибка только логируется.
func (p *ArtifactPublisher) RemoveFolder(ctx context.Context, kind *model.Kind, publicID string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	folder := kind.ArtifactFolder(publicID)
	start := time.Now()
	err := p.store.DeleteFolder(ctx, folder)
	p.observe("delete_folder", start, err)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, objectstore.ErrFolderNotEmpty) {
			level = slog.LevelInfo
		}
		p.logger.Log(ctx, level, "Папка артефактов не удалена",
			slog.String("folder", folder),
			slog.String("error", err.Error()),
		)
	}
}

// Remove удаляет артефакты записи: фотографию, QR-код и папку.
// Ошибка удаления фотографии или QR-кода прерывает операцию.
func (p *ArtifactPublisher) Remove(ctx context.Context, kind *model.Kind, publicID string) error {
	if err := p.RemoveObject(ctx, kind.PhotoObject(publicID)); err != nil {
		return err
	}
	if err := p.RemoveObject(ctx, kind.QRObject(publicID)); err != nil {
		return err
	}
	p.RemoveFolder(ctx, kind, publicID)
	return nil
}

// Backend возвращает имя бэкенда хранилища.
func (p *ArtifactPublisher) Backend() string {
	return p.store.Backend()
}

func (p *ArtifactPublisher) put(ctx context.Context, key, contentType string, data []byte) (*objectstore.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	obj, err := p.store.Put(ctx, key, contentType, bytes.NewReader(data))
	p.observe("put", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: загрузка %s: %v", ErrRemoteStorage, key, err)
	}

	p.logger.Debug("Объект загружен",
		slog.String("key", obj.Key),
		slog.Int64("size", obj.Size),
		slog.String("checksum", obj.Checksum),
	)
	return obj, nil
}

func (p *ArtifactPublisher) observe(op string, start time.Time, err error) {
	storageDurationSeconds.WithLabelValues(p.store.Backend(), op, resultLabel(err)).
		Observe(time.Since(start).Seconds())
}
