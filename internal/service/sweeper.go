// sweeper.go — фоновая сверка журнала операций.
//
// Сверка разбирает операции, оставшиеся pending после сбоя:
//  1. insert без строки в БД — загруженные артефакты удаляются, операция откатывается;
//     insert со строкой — операция завершилась, фиксируется commit
//  2. delete — удаление доводится до конца (артефакты, затем строка)
//
// Затем завершённые записи журнала удаляются.
// Запускается как горутина с периодическим тикером (WQT_SWEEP_INTERVAL).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/journal"
	"github.com/Arsalanbashir831/ATECOWQT/internal/repository"
)

// SweepResult — результат одного запуска сверки.
type SweepResult struct {
	// RolledBack — незавершённые вставки, артефакты которых удалены
	RolledBack int
	// Committed — операции, фактически завершённые до сбоя
	Committed int
	// RolledForward — удаления, доведённые до конца
	RolledForward int
	// Cleaned — удалённые завершённые записи журнала
	Cleaned int
	// Errors — количество ошибок
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// SweeperService — сервис фоновой сверки журнала.
type SweeperService struct {
	journal   *journal.Journal
	repo      repository.RecordRepository
	artifacts *ArtifactPublisher
	interval  time.Duration
	// grace — минимальный возраст pending операции; более свежие
	// могут выполняться прямо сейчас
	grace  time.Duration
	logger *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeperService создаёт сервис сверки журнала.
func NewSweeperService(
	jrn *journal.Journal,
	repo repository.RecordRepository,
	artifacts *ArtifactPublisher,
	interval time.Duration,
	grace time.Duration,
	logger *slog.Logger,
) *SweeperService {
	return &SweeperService{
		journal:   jrn,
		repo:      repo,
		artifacts: artifacts,
		interval:  interval,
		grace:     grace,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину сверки.
func (sw *SweeperService) Start(ctx context.Context) {
	sctx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel

	sw.wg.Add(1)
	go func() {
		defer sw.wg.Done()
		sw.run(sctx)
	}()

	sw.logger.Info("Сверка журнала запущена",
		slog.String("interval", sw.interval.String()),
		slog.String("grace", sw.grace.String()),
	)
}

// Stop останавливает сверку и дожидается завершения текущего прохода.
func (sw *SweeperService) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.wg.Wait()
	sw.logger.Info("Сверка журнала остановлена")
}

func (sw *SweeperService) run(ctx context.Context) {
	sw.RunOnce(ctx)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход сверки.
func (sw *SweeperService) RunOnce(ctx context.Context) *SweepResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	entries, err := sw.journal.Pending(sw.grace)
	if err != nil {
		sw.logger.Error("Ошибка чтения журнала", slog.String("error", err.Error()))
		result.Errors++
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		outcome, err := sw.reconcile(ctx, entry)
		if err != nil {
			result.Errors++
			sw.logger.Error("Операция не восстановлена",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("public_id", entry.PublicID),
				slog.String("error", err.Error()),
			)
			continue
		}
		sweepRecoveredTotal.WithLabelValues(string(entry.Operation), outcome).Inc()
		switch outcome {
		case "rolled_back":
			result.RolledBack++
		case "committed":
			result.Committed++
		case "rolled_forward":
			result.RolledForward++
		}
	}

	cleaned, err := sw.journal.CleanFinished()
	if err != nil {
		sw.logger.Error("Ошибка очистки журнала", slog.String("error", err.Error()))
		result.Errors++
	}
	result.Cleaned = cleaned
	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	if len(entries) > 0 || result.Errors > 0 {
		sw.logger.Info("Сверка журнала завершена",
			slog.Int("rolled_back", result.RolledBack),
			slog.Int("committed", result.Committed),
			slog.Int("rolled_forward", result.RolledForward),
			slog.Int("cleaned", result.Cleaned),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}

// reconcile разбирает одну незавершённую операцию и возвращает исход.
func (sw *SweeperService) reconcile(ctx context.Context, entry *journal.Entry) (string, error) {
	kind, ok := model.KindByName(entry.Kind)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, entry.Kind)
	}

	switch entry.Operation {
	case journal.OpInsert:
		exists, err := sw.repo.Exists(ctx, kind, entry.PublicID)
		if err != nil {
			return "", err
		}
		if exists {
			return "committed", sw.journal.Commit(entry.TransactionID)
		}
		for _, key := range entry.Artifacts {
			if err := sw.artifacts.RemoveObject(ctx, key); err != nil {
				return "", err
			}
		}
		sw.artifacts.RemoveFolder(ctx, kind, entry.PublicID)
		return "rolled_back", sw.journal.Rollback(entry.TransactionID, "незавершённая вставка")

	case journal.OpDelete:
		if err := sw.artifacts.Remove(ctx, kind, entry.PublicID); err != nil {
			return "", err
		}
		if err := sw.repo.Delete(ctx, kind, entry.PublicID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", err
		}
		return "rolled_forward", sw.journal.Commit(entry.TransactionID)

	default:
		return "", fmt.Errorf("неизвестная операция %q", entry.Operation)
	}
}
