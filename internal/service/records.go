// Пакет service — бизнес-логика WQT.
// records.go — координатор записей: порядковые номера, публичные
// идентификаторы и связанные артефакты (фото и QR-код).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/journal"
	"github.com/Arsalanbashir831/ATECOWQT/internal/repository"
)

// Параметры координатора по умолчанию.
const (
	// defaultInsertAttempts — попыток выделить номер при конфликте уникальности
	defaultInsertAttempts = 3
	// defaultRegenerateConcurrency — параллельных перегенераций QR-кодов
	defaultRegenerateConcurrency = 4
	// dashboardRecentLimit — записей каждого вида на панели (0 — все)
	dashboardRecentLimit = 0
)

// errSequenceTaken — номер уже занят, нужен новый.
var errSequenceTaken = errors.New("порядковый номер занят")

// InsertParams — параметры создания записи.
type InsertParams struct {
	Kind *model.Kind
	// Fields — значения полей формы (string или вложенные объекты)
	Fields map[string]any
	// Photo — фотография (опционально)
	Photo *Photo
	// Actor — идентификатор пользователя
	Actor string
}

// UpdateParams — параметры обновления записи.
type UpdateParams struct {
	Kind     *model.Kind
	PublicID string
	Fields   map[string]any
	Photo    *Photo
	Actor    string
}

// KindSummary — записи одного вида для панели пользователя.
type KindSummary struct {
	Kind    string          `json:"kind"`
	Title   string          `json:"title"`
	Total   int             `json:"total"`
	Records []*model.Record `json:"records"`
}

// RegenerateResult — итог перегенерации QR-кодов одного вида.
type RegenerateResult struct {
	Kind    string `json:"kind"`
	Updated int    `json:"updated"`
	Failed  int    `json:"failed"`
}

// RecordService — обобщённый координатор записей всех видов.
type RecordService struct {
	repo      repository.RecordRepository
	seq       repository.SequenceAllocator
	artifacts *ArtifactPublisher
	journal   *journal.Journal
	cache     *RecordCache
	logger    *slog.Logger

	insertAttempts        int
	regenerateConcurrency int
}

// NewRecordService создаёт координатор записей. cache может быть nil.
func NewRecordService(
	repo repository.RecordRepository,
	seq repository.SequenceAllocator,
	artifacts *ArtifactPublisher,
	jrn *journal.Journal,
	cache *RecordCache,
	logger *slog.Logger,
) *RecordService {
	return &RecordService{
		repo:                  repo,
		seq:                   seq,
		artifacts:             artifacts,
		journal:               jrn,
		cache:                 cache,
		logger:                logger.With(slog.String("component", "record_service")),
		insertAttempts:        defaultInsertAttempts,
		regenerateConcurrency: defaultRegenerateConcurrency,
	}
}

// Artifacts возвращает публикатор артефактов.
func (s *RecordService) Artifacts() *ArtifactPublisher {
	return s.artifacts
}

// Insert создаёт запись. Фотография обязательна.
//
// Поток:
//  1. Нормализация и валидация полей, подготовка фото (без обращений к хранилищу)
//  2. Выделение номера и вывод publicId
//  3. Журнал: начало операции
//  4. Загрузка фото, затем QR-кода
//  5. Создание строки в БД
//  6. Журнал: commit
//
// При ошибке шагов 4–5 загруженные артефакты удаляются, журнал откатывается,
// а выделенный номер возвращается аллокатору. Конфликт номера — повтор
// с новым номером.
func (s *RecordService) Insert(ctx context.Context, p InsertParams) (rec *model.Record, err error) {
	defer func() {
		recordOperationsTotal.WithLabelValues(p.Kind.Name, "insert", resultLabel(err)).Inc()
	}()

	fields, err := p.Kind.Normalize(p.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := p.Kind.Validate(fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if p.Photo == nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation,
			&model.ValidationError{Field: "photo", Message: "фотография обязательна"})
	}
	photo, err := s.artifacts.PreparePhoto(p.Photo)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.insertAttempts; attempt++ {
		seq, err := s.seq.Allocate(ctx, p.Kind)
		if err != nil {
			return nil, fmt.Errorf("ошибка выделения номера: %w", err)
		}

		rec, err = s.insertOnce(ctx, p.Kind, seq, fields.Clone(), photo, p.Actor)
		if !errors.Is(err, errSequenceTaken) {
			return rec, err
		}

		sequenceRetriesTotal.WithLabelValues(p.Kind.Name).Inc()
		s.logger.Warn("Порядковый номер занят, повтор",
			slog.String("kind", p.Kind.Name),
			slog.Int64("sequence", seq),
			slog.Int("attempt", attempt),
		)
		if err := s.seq.Resync(ctx, p.Kind); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: вид %s, попыток %d", ErrSequenceConflict, p.Kind.Name, s.insertAttempts)
}

// insertOnce выполняет одну попытку создания записи с номером seq.
func (s *RecordService) insertOnce(
	ctx context.Context,
	kind *model.Kind,
	seq int64,
	fields model.Fields,
	photo []byte,
	actor string,
) (*model.Record, error) {
	publicID := kind.DeriveID(seq)

	// Занятый идентификатор: артефакты по этому пути принадлежат другой записи
	exists, err := s.repo.Exists(ctx, kind, publicID)
	if err != nil {
		s.releaseSequence(ctx, kind, seq)
		return nil, err
	}
	if exists {
		return nil, errSequenceTaken
	}

	kind.ApplyCreate(fields, seq, publicID)

	qr, err := s.artifacts.RenderQR(kind, publicID)
	if err != nil {
		s.releaseSequence(ctx, kind, seq)
		return nil, err
	}

	entry, err := s.journal.Begin(journal.Start{
		Operation: journal.OpInsert,
		Kind:      kind.Name,
		PublicID:  publicID,
		Folder:    kind.ArtifactFolder(publicID),
		Artifacts: []string{kind.PhotoObject(publicID), kind.QRObject(publicID)},
	})
	if err != nil {
		s.releaseSequence(ctx, kind, seq)
		return nil, err
	}

	saga := NewSaga(s.logger.With(slog.String("public_id", publicID)))
	abort := func(cause error) {
		if cerr := saga.Compensate(ctx); cerr != nil {
			// Незавершённую компенсацию доделает сверка журнала. Номер не
			// возвращается: артефакты по этому publicId ещё не удалены.
			s.logger.Error("Компенсация неполная, операция остаётся в журнале",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", cerr.Error()),
			)
			return
		}
		s.artifacts.RemoveFolder(context.WithoutCancel(ctx), kind, publicID)
		s.rollbackJournal(entry.TransactionID, cause)
		s.releaseSequence(ctx, kind, seq)
	}

	rec := &model.Record{
		Kind:           kind.Name,
		SequenceNumber: seq,
		PublicID:       publicID,
		Fields:         fields,
		CreatedBy:      actor,
	}

	obj, err := s.artifacts.PublishPhoto(ctx, kind, publicID, photo)
	if err != nil {
		abort(err)
		return nil, err
	}
	saga.Add("delete_photo", func(ctx context.Context) error {
		return s.artifacts.RemoveObject(ctx, obj.Key)
	})
	rec.PhotoURL = obj.URL

	qrObj, err := s.artifacts.PublishQR(ctx, kind, publicID, qr)
	if err != nil {
		abort(err)
		return nil, err
	}
	saga.Add("delete_qr", func(ctx context.Context) error {
		return s.artifacts.RemoveObject(ctx, qrObj.Key)
	})
	rec.QRCodeURL = qrObj.URL

	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Строка с этим номером появилась после проверки: артефакты
			// по тому же пути теперь принадлежат ей и не удаляются.
			s.rollbackJournal(entry.TransactionID, err)
			return nil, errSequenceTaken
		}
		abort(err)
		return nil, err
	}

	s.commitJournal(entry.TransactionID)

	s.logger.Info("Запись создана",
		slog.String("kind", kind.Name),
		slog.String("public_id", publicID),
		slog.Int64("sequence", seq),
		slog.String("created_by", actor),
	)
	return rec, nil
}

// Get возвращает запись по публичному идентификатору.
func (s *RecordService) Get(ctx context.Context, kind *model.Kind, publicID string) (*model.Record, error) {
	rec, err := s.repo.GetByPublicID(ctx, kind, publicID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, publicID)
		}
		return nil, err
	}
	return rec, nil
}

// View возвращает запись для публичной страницы просмотра через кэш.
func (s *RecordService) View(ctx context.Context, kind *model.Kind, publicID string) (*model.Record, error) {
	if s.cache != nil {
		if rec, ok := s.cache.Get(kind.Name, publicID); ok {
			return rec, nil
		}
	}
	rec, err := s.Get(ctx, kind, publicID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(rec)
	}
	return rec, nil
}

// Update обновляет переданные поля записи, при наличии заменяет фото и
// перегенерирует QR-код. Поля, отсутствующие в запросе, сохраняются.
// Номер и publicId не меняются.
//
// Операция не транзакционна: успешная загрузка фото с последующим
// сбоем QR оставляет новое фото в хранилище, строка не меняется.
func (s *RecordService) Update(ctx context.Context, p UpdateParams) (rec *model.Record, err error) {
	defer func() {
		recordOperationsTotal.WithLabelValues(p.Kind.Name, "update", resultLabel(err)).Inc()
	}()

	existing, err := s.Get(ctx, p.Kind, p.PublicID)
	if err != nil {
		return nil, err
	}

	payload, err := p.Kind.Normalize(p.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	fields := existing.Fields.Clone()
	for name, v := range payload {
		fields[name] = v
	}
	p.Kind.ApplyUpdate(fields, existing)
	if err := p.Kind.Validate(fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var photo []byte
	if p.Photo != nil {
		if photo, err = s.artifacts.PreparePhoto(p.Photo); err != nil {
			return nil, err
		}
	}

	qr, err := s.artifacts.RenderQR(p.Kind, existing.PublicID)
	if err != nil {
		return nil, err
	}

	rec = &model.Record{
		Kind:      existing.Kind,
		PublicID:  existing.PublicID,
		PhotoURL:  existing.PhotoURL,
		Fields:    fields,
		UpdatedBy: p.Actor,
	}

	if photo != nil {
		obj, err := s.artifacts.PublishPhoto(ctx, p.Kind, existing.PublicID, photo)
		if err != nil {
			return nil, err
		}
		rec.PhotoURL = obj.URL
	}

	qrObj, err := s.artifacts.PublishQR(ctx, p.Kind, existing.PublicID, qr)
	if err != nil {
		return nil, err
	}
	rec.QRCodeURL = qrObj.URL

	if err := s.repo.Update(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p.PublicID)
		}
		return nil, err
	}
	s.invalidate(p.Kind, p.PublicID)

	s.logger.Info("Запись обновлена",
		slog.String("kind", p.Kind.Name),
		slog.String("public_id", p.PublicID),
		slog.Bool("photo_replaced", photo != nil),
		slog.String("updated_by", p.Actor),
	)
	return rec, nil
}

// Delete удаляет артефакты записи, затем строку в БД.
// Сбой удаления артефактов оставляет строку без изменений.
func (s *RecordService) Delete(ctx context.Context, kind *model.Kind, publicID string) (err error) {
	defer func() {
		recordOperationsTotal.WithLabelValues(kind.Name, "delete", resultLabel(err)).Inc()
	}()

	if _, err := s.Get(ctx, kind, publicID); err != nil {
		return err
	}

	entry, err := s.journal.Begin(journal.Start{
		Operation: journal.OpDelete,
		Kind:      kind.Name,
		PublicID:  publicID,
		Folder:    kind.ArtifactFolder(publicID),
		Artifacts: []string{kind.PhotoObject(publicID), kind.QRObject(publicID)},
	})
	if err != nil {
		return err
	}

	if err := s.artifacts.Remove(ctx, kind, publicID); err != nil {
		s.rollbackJournal(entry.TransactionID, err)
		s.logger.Error("Артефакты не удалены, запись сохранена",
			slog.String("kind", kind.Name),
			slog.String("public_id", publicID),
			slog.String("error", err.Error()),
		)
		return err
	}

	if err := s.repo.Delete(ctx, kind, publicID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		// Операция остаётся pending: сверка журнала удалит строку
		s.logger.Error("Артефакты удалены, строка не удалена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("public_id", publicID),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.commitJournal(entry.TransactionID)
	s.invalidate(kind, publicID)

	s.logger.Info("Запись удалена",
		slog.String("kind", kind.Name),
		slog.String("public_id", publicID),
	)
	return nil
}

// List возвращает записи вида (новые первыми) и их общее количество.
func (s *RecordService) List(ctx context.Context, kind *model.Kind, limit, offset int) ([]*model.Record, int, error) {
	records, err := s.repo.List(ctx, kind, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx, kind)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Dashboard возвращает записи всех видов для панели пользователя.
func (s *RecordService) Dashboard(ctx context.Context) ([]KindSummary, error) {
	kinds := model.Kinds()
	out := make([]KindSummary, 0, len(kinds))
	for _, kind := range kinds {
		records, total, err := s.List(ctx, kind, dashboardRecentLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки записей %s: %w", kind.Name, err)
		}
		if records == nil {
			records = []*model.Record{}
		}
		out = append(out, KindSummary{Kind: kind.Name, Title: kind.Title, Total: total, Records: records})
	}
	return out, nil
}

// RegenerateQR перегенерирует и перезагружает QR-коды всех записей
// указанных видов (все виды, если kinds пуст) и сохраняет новые ссылки.
// Ошибка по отдельной записи учитывается в Failed и не прерывает обход.
func (s *RecordService) RegenerateQR(ctx context.Context, kinds ...*model.Kind) ([]RegenerateResult, error) {
	if len(kinds) == 0 {
		kinds = model.Kinds()
	}

	results := make([]RegenerateResult, 0, len(kinds))
	for _, kind := range kinds {
		records, err := s.repo.List(ctx, kind, 0, 0)
		if err != nil {
			return results, fmt.Errorf("ошибка загрузки записей %s: %w", kind.Name, err)
		}

		var updated, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.regenerateConcurrency)

		for _, rec := range records {
			g.Go(func() error {
				if err := s.regenerateOne(gctx, kind, rec.PublicID); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(1)
					s.logger.Warn("QR-код не перегенерирован",
						slog.String("kind", kind.Name),
						slog.String("public_id", rec.PublicID),
						slog.String("error", err.Error()),
					)
					return nil
				}
				updated.Add(1)
				return nil
			})
		}
		err = g.Wait()

		res := RegenerateResult{Kind: kind.Name, Updated: int(updated.Load()), Failed: int(failed.Load())}
		results = append(results, res)
		s.logger.Info("QR-коды перегенерированы",
			slog.String("kind", kind.Name),
			slog.Int("updated", res.Updated),
			slog.Int("failed", res.Failed),
		)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (s *RecordService) regenerateOne(ctx context.Context, kind *model.Kind, publicID string) error {
	qr, err := s.artifacts.RenderQR(kind, publicID)
	if err != nil {
		return err
	}
	obj, err := s.artifacts.PublishQR(ctx, kind, publicID, qr)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateQRCode(ctx, kind, publicID, obj.URL); err != nil {
		return err
	}
	s.invalidate(kind, publicID)
	return nil
}

func (s *RecordService) invalidate(kind *model.Kind, publicID string) {
	if s.cache != nil {
		s.cache.Invalidate(kind.Name, publicID)
	}
}

// commitJournal — best effort: данные уже записаны.
func (s *RecordService) commitJournal(txID string) {
	if err := s.journal.Commit(txID); err != nil {
		s.logger.Error("Ошибка коммита журнала (данные сохранены)",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *RecordService) rollbackJournal(txID string, cause error) {
	if err := s.journal.Rollback(txID, cause.Error()); err != nil {
		s.logger.Error("Ошибка отката журнала",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

// releaseSequence возвращает номер неудавшейся вставки, чтобы следующая
// получила тот же номер. Если номер уже выдан дальше, остаётся пропуск.
func (s *RecordService) releaseSequence(ctx context.Context, kind *model.Kind, seq int64) {
	if err := s.seq.Release(context.WithoutCancel(ctx), kind, seq); err != nil {
		s.logger.Warn("Номер не возвращён аллокатору",
			slog.String("kind", kind.Name),
			slog.Int64("sequence", seq),
			slog.String("error", err.Error()),
		)
	}
}
