// handler.go — основной обработчик API WQT.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/Arsalanbashir831/ATECOWQT/internal/api/errors"
	"github.com/Arsalanbashir831/ATECOWQT/internal/auth"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/service"
)

// RecordManager — операции над записями, используемые обработчиками.
// Реализуется service.RecordService.
type RecordManager interface {
	Insert(ctx context.Context, p service.InsertParams) (*model.Record, error)
	Get(ctx context.Context, kind *model.Kind, publicID string) (*model.Record, error)
	View(ctx context.Context, kind *model.Kind, publicID string) (*model.Record, error)
	Update(ctx context.Context, p service.UpdateParams) (*model.Record, error)
	Delete(ctx context.Context, kind *model.Kind, publicID string) error
	List(ctx context.Context, kind *model.Kind, limit, offset int) ([]*model.Record, int, error)
	Dashboard(ctx context.Context) ([]service.KindSummary, error)
	RegenerateQR(ctx context.Context, kinds ...*model.Kind) ([]service.RegenerateResult, error)
}

// Options — параметры обработчика API.
type Options struct {
	// BaseViewURL — внешний адрес сервиса для ссылок на страницы просмотра
	BaseViewURL string
	// MaxPhotoSize — максимальный размер фотографии в байтах
	MaxPhotoSize int64
	// SecureCookies — выставлять cookie сессии с флагом Secure
	SecureCookies bool
}

// APIHandler — основной обработчик API WQT.
type APIHandler struct {
	health      *HealthHandler
	records     RecordManager
	credentials auth.CredentialStore
	sessions    *auth.SessionManager
	opts        Options
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	records RecordManager,
	credentials auth.CredentialStore,
	sessions *auth.SessionManager,
	opts Options,
	logger *slog.Logger,
) *APIHandler {
	opts.BaseViewURL = strings.TrimSuffix(opts.BaseViewURL, "/")
	return &APIHandler{
		health:      health,
		records:     records,
		credentials: credentials,
		sessions:    sessions,
		opts:        opts,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и возвращаются как 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrPhotoTooLarge):
		apierrors.PayloadTooLarge(w, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUnknownKind):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrSequenceConflict):
		apierrors.SequenceConflict(w, err.Error())
	case errors.Is(err, service.ErrRemoteStorage):
		h.logger.Error(msg, append(attrs, "error", err)...)
		apierrors.StorageUnavailable(w, msg)
	default:
		h.logger.Error(msg, append(attrs, "error", err)...)
		apierrors.InternalError(w, msg)
	}
}
