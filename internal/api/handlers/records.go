// records.go — обработчики записей всех видов.
// GET  /{kind}/                    — схема полей вида (supervisor)
// POST /{kind}/insert              — создание записи, multipart (supervisor)
// GET  /{kind}/view/{publicId}     — публичная страница записи (цель QR-кода)
// GET  /{kind}/edit/{publicId}     — запись и схема для редактирования (supervisor)
// POST /{kind}/update/{publicId}   — обновление записи, multipart (supervisor)
// POST /{kind}/delete/{publicId}   — удаление записи и артефактов (supervisor)
// GET  /{kind}/list                — список записей (supervisor, inspector)
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/Arsalanbashir831/ATECOWQT/internal/api/errors"
	"github.com/Arsalanbashir831/ATECOWQT/internal/api/middleware"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/service"
)

const (
	// multipartMemory — часть multipart-формы, хранимая в памяти; остальное во временных файлах
	multipartMemory = 8 << 20
	// formOverhead — запас на текстовые поля формы сверх размера фотографии
	formOverhead = 2 << 20
)

// recordResponse — запись со ссылкой на страницу просмотра.
type recordResponse struct {
	*model.Record
	ViewURL string `json:"view_url"`
}

type kindSchemaResponse struct {
	Kind        string            `json:"kind"`
	Title       string            `json:"title"`
	Prefix      string            `json:"prefix"`
	PhotoFields []string          `json:"photo_fields"`
	Fields      []model.FieldSpec `json:"fields"`
}

type recordEditResponse struct {
	Record recordResponse     `json:"record"`
	Schema kindSchemaResponse `json:"schema"`
}

type recordListResponse struct {
	Items   []recordResponse `json:"items"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"has_more"`
}

// ListRecordsParams — параметры запроса списка записей.
type ListRecordsParams struct {
	Limit  *int `form:"limit" json:"limit,omitempty"`
	Offset *int `form:"offset" json:"offset,omitempty"`
}

// GetKindSchema — GET /{kind}/.
// Возвращает схему полей вида для формы создания.
func (h *APIHandler) GetKindSchema(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.bindKind(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schemaOf(kind))
}

// InsertRecord — POST /{kind}/insert.
// Создаёт запись: номер, publicId, фото и QR-код. Без фото — 400.
func (h *APIHandler) InsertRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.bindKind(w, r)
	if !ok {
		return
	}

	fields, photo, cleanup, err := h.parseRecordForm(w, r, kind)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка разбора формы")
		return
	}
	defer cleanup()

	if photo == nil {
		apierrors.ValidationError(w, fmt.Sprintf("Фотография обязательна (поле %s)",
			strings.Join(kind.PhotoFields, " или ")))
		return
	}

	rec, err := h.records.Insert(r.Context(), service.InsertParams{
		Kind:   kind,
		Fields: fields,
		Photo:  photo,
		Actor:  middleware.SubjectFromContext(r.Context()),
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания записи", "kind", kind.Name)
		return
	}

	writeJSON(w, http.StatusCreated, h.toResponse(kind, rec))
}

// ViewRecord — GET /{kind}/view/{publicId}.
// Публичная страница записи, на которую ведёт QR-код.
func (h *APIHandler) ViewRecord(w http.ResponseWriter, r *http.Request) {
	kind, publicID, ok := h.bindRecordPath(w, r)
	if !ok {
		return
	}

	rec, err := h.records.View(r.Context(), kind, publicID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения записи", "public_id", publicID)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(kind, rec))
}

// EditRecord — GET /{kind}/edit/{publicId}.
// Возвращает актуальную запись (без кэша) и схему полей.
func (h *APIHandler) EditRecord(w http.ResponseWriter, r *http.Request) {
	kind, publicID, ok := h.bindRecordPath(w, r)
	if !ok {
		return
	}

	rec, err := h.records.Get(r.Context(), kind, publicID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения записи", "public_id", publicID)
		return
	}

	writeJSON(w, http.StatusOK, recordEditResponse{
		Record: h.toResponse(kind, rec),
		Schema: schemaOf(kind),
	})
}

// UpdateRecord — POST /{kind}/update/{publicId}.
// Обновляет поля, при наличии заменяет фото и перегенерирует QR-код.
func (h *APIHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	kind, publicID, ok := h.bindRecordPath(w, r)
	if !ok {
		return
	}

	fields, photo, cleanup, err := h.parseRecordForm(w, r, kind)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка разбора формы")
		return
	}
	defer cleanup()

	rec, err := h.records.Update(r.Context(), service.UpdateParams{
		Kind:     kind,
		PublicID: publicID,
		Fields:   fields,
		Photo:    photo,
		Actor:    middleware.SubjectFromContext(r.Context()),
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка обновления записи", "public_id", publicID)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(kind, rec))
}

// DeleteRecord — POST /{kind}/delete/{publicId}.
// Удаляет артефакты, затем запись.
func (h *APIHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	kind, publicID, ok := h.bindRecordPath(w, r)
	if !ok {
		return
	}

	if err := h.records.Delete(r.Context(), kind, publicID); err != nil {
		h.writeServiceError(w, err, "Ошибка удаления записи", "public_id", publicID)
		return
	}

	h.logger.Info("Запись удалена по запросу",
		slog.String("public_id", publicID),
		slog.String("by", middleware.SubjectFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "public_id": publicID})
}

// ListRecords — GET /{kind}/list.
// Записи вида, новые первыми.
func (h *APIHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.bindKind(w, r)
	if !ok {
		return
	}

	var params ListRecordsParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр limit: %v", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", r.URL.Query(), &params.Offset); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр offset: %v", err))
		return
	}
	limit, offset := paginationDefaults(params.Limit, params.Offset)

	records, total, err := h.records.List(r.Context(), kind, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка записей", "kind", kind.Name)
		return
	}

	items := make([]recordResponse, len(records))
	for i, rec := range records {
		items[i] = h.toResponse(kind, rec)
	}

	writeJSON(w, http.StatusOK, recordListResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// --- Привязка параметров пути ---

// bindKind извлекает вид записи из пути. Неизвестный вид — 404.
func (h *APIHandler) bindKind(w http.ResponseWriter, r *http.Request) (*model.Kind, bool) {
	var name string
	err := runtime.BindStyledParameterWithOptions("simple", "kind", chi.URLParam(r, "kind"), &name,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр kind: %v", err))
		return nil, false
	}
	kind, ok := model.KindByName(name)
	if !ok {
		apierrors.NotFound(w, fmt.Sprintf("%v: %s", service.ErrUnknownKind, name))
		return nil, false
	}
	return kind, true
}

// bindRecordPath извлекает вид и publicId. Идентификатор чужого вида — 404.
func (h *APIHandler) bindRecordPath(w http.ResponseWriter, r *http.Request) (*model.Kind, string, bool) {
	kind, ok := h.bindKind(w, r)
	if !ok {
		return nil, "", false
	}
	var publicID string
	err := runtime.BindStyledParameterWithOptions("simple", "publicId", chi.URLParam(r, "publicId"), &publicID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр publicId: %v", err))
		return nil, "", false
	}
	if !kind.OwnsPublicID(publicID) {
		apierrors.NotFound(w, fmt.Sprintf("%v: %s", service.ErrNotFound, publicID))
		return nil, "", false
	}
	return kind, publicID, true
}

// --- Разбор тела запроса ---

// parseRecordForm разбирает поля записи и фотографию.
// Поддерживаются multipart/form-data, application/x-www-form-urlencoded и
// application/json (без фото). cleanup освобождает временные файлы формы.
func (h *APIHandler) parseRecordForm(w http.ResponseWriter, r *http.Request, kind *model.Kind) (map[string]any, *service.Photo, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxPhotoSize+formOverhead)

	switch mediaType {
	case "application/json":
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return nil, nil, noop, bodyError(err)
		}
		return fields, nil, noop, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, nil, noop, bodyError(err)
		}
		form := r.MultipartForm
		fields := make(map[string]any, len(form.Value))
		for name, values := range form.Value {
			if len(values) > 0 {
				fields[name] = values[0]
			}
		}

		var photo *service.Photo
		closeFile := func() {}
		for _, name := range kind.PhotoFields {
			files := form.File[name]
			// Пустое поле файла отправляется браузером, если фото не выбрано
			if len(files) == 0 || files[0].Size == 0 {
				continue
			}
			f, err := files[0].Open()
			if err != nil {
				_ = form.RemoveAll()
				return nil, nil, noop, fmt.Errorf("%w: фото не прочитано: %v", service.ErrValidation, err)
			}
			photo = &service.Photo{Reader: f, Filename: files[0].Filename}
			closeFile = func() { _ = f.Close() }
			break
		}
		return fields, photo, func() {
			closeFile()
			_ = form.RemoveAll()
		}, nil

	default:
		if err := r.ParseForm(); err != nil {
			return nil, nil, noop, bodyError(err)
		}
		fields := make(map[string]any, len(r.PostForm))
		for name := range r.PostForm {
			fields[name] = r.PostForm.Get(name)
		}
		return fields, nil, noop, nil
	}
}

// bodyError классифицирует ошибку чтения тела запроса.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: тело запроса больше %d байт", service.ErrPhotoTooLarge, maxErr.Limit)
	}
	return fmt.Errorf("%w: некорректное тело запроса: %v", service.ErrValidation, err)
}

// --- Маппинг ответов ---

func (h *APIHandler) toResponse(kind *model.Kind, rec *model.Record) recordResponse {
	return recordResponse{Record: rec, ViewURL: h.opts.BaseViewURL + kind.ViewPath(rec.PublicID)}
}

func schemaOf(kind *model.Kind) kindSchemaResponse {
	return kindSchemaResponse{
		Kind:        kind.Name,
		Title:       kind.Title,
		Prefix:      kind.Prefix,
		PhotoFields: kind.PhotoFields,
		Fields:      kind.Schema,
	}
}
