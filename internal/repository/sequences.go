package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
)

// SequenceAllocator выдаёт порядковые номера записей.
type SequenceAllocator interface {
	// Allocate возвращает следующий номер вида. Конкурентные вызовы
	// никогда не получают одинаковый номер.
	Allocate(ctx context.Context, kind *model.Kind) (int64, error)
	// Resync подтягивает счётчик к максимальному номеру в records.
	// Вызывается после конфликта уникальности номера.
	Resync(ctx context.Context, kind *model.Kind) error
	// Release возвращает номер seq, если он последний выданный для вида.
	// Вызывается после неудачной вставки, чтобы нумерация шла без пропусков.
	Release(ctx context.Context, kind *model.Kind, seq int64) error
}

// sequenceRepo — реализация SequenceAllocator на таблице record_sequences.
type sequenceRepo struct {
	db DBTX
}

// NewSequenceAllocator создаёт аллокатор порядковых номеров.
func NewSequenceAllocator(db DBTX) SequenceAllocator {
	return &sequenceRepo{db: db}
}

// Allocate выполняет атомарный upsert счётчика.
// Первый вызов для вида засевает счётчик по самой свежей записи
// (или количеству записей, если номер не читается).
func (r *sequenceRepo) Allocate(ctx context.Context, kind *model.Kind) (int64, error) {
	seed, err := r.seed(ctx, kind)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO record_sequences (kind, last_value)
		VALUES ($1, $2)
		ON CONFLICT (kind) DO UPDATE SET last_value = record_sequences.last_value + 1
		RETURNING last_value`

	var next int64
	if err := r.db.QueryRow(ctx, query, kind.Name, seed).Scan(&next); err != nil {
		return 0, fmt.Errorf("ошибка выделения номера для %s: %w", kind.Name, err)
	}
	return next, nil
}

// seed вычисляет стартовое значение счётчика для пустой record_sequences.
func (r *sequenceRepo) seed(ctx context.Context, kind *model.Kind) (int64, error) {
	var last *int64
	err := r.db.QueryRow(ctx,
		`SELECT sequence_number FROM records WHERE kind = $1 ORDER BY id DESC LIMIT 1`,
		kind.Name,
	).Scan(&last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("ошибка чтения последнего номера %s: %w", kind.Name, err)
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE kind = $1`, kind.Name).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей %s: %w", kind.Name, err)
	}

	return model.NextSequence(last, total), nil
}

func (r *sequenceRepo) Resync(ctx context.Context, kind *model.Kind) error {
	query := `
		UPDATE record_sequences
		SET last_value = GREATEST(last_value,
			(SELECT COALESCE(MAX(sequence_number), 0) FROM records WHERE kind = $1))
		WHERE kind = $1`
	if _, err := r.db.Exec(ctx, query, kind.Name); err != nil {
		return fmt.Errorf("ошибка синхронизации счётчика %s: %w", kind.Name, err)
	}
	return nil
}

func (r *sequenceRepo) Release(ctx context.Context, kind *model.Kind, seq int64) error {
	query := `
		UPDATE record_sequences
		SET last_value = last_value - 1
		WHERE kind = $1 AND last_value = $2`
	if _, err := r.db.Exec(ctx, query, kind.Name, seq); err != nil {
		return fmt.Errorf("ошибка возврата номера %d для %s: %w", seq, kind.Name, err)
	}
	return nil
}
