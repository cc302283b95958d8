package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
)

// RecordRepository — интерфейс CRUD для таблицы records.
// Порядковый номер и публичный идентификатор пишутся только при создании.
type RecordRepository interface {
	// Create сохраняет новую запись. Дубликат номера или идентификатора — ErrConflict.
	Create(ctx context.Context, rec *model.Record) error
	// GetByPublicID возвращает запись вида по публичному идентификатору.
	GetByPublicID(ctx context.Context, kind *model.Kind, publicID string) (*model.Record, error)
	// Exists проверяет наличие записи.
	Exists(ctx context.Context, kind *model.Kind, publicID string) (bool, error)
	// Update обновляет фото, QR, поля и автора изменения.
	Update(ctx context.Context, rec *model.Record) error
	// UpdateQRCode обновляет только ссылку на QR-код.
	UpdateQRCode(ctx context.Context, kind *model.Kind, publicID, qrURL string) error
	// Delete удаляет запись.
	Delete(ctx context.Context, kind *model.Kind, publicID string) error
	// List возвращает записи вида, новые первыми. limit <= 0 — без ограничения.
	List(ctx context.Context, kind *model.Kind, limit, offset int) ([]*model.Record, error)
	// Count возвращает количество записей вида.
	Count(ctx context.Context, kind *model.Kind) (int, error)
}

// recordRepo — реализация RecordRepository.
type recordRepo struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий записей.
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepo{db: db}
}

const recordColumns = `kind, sequence_number, public_id, photo_url, qr_code_url, fields,
	created_by, updated_by, created_at, updated_at`

func (r *recordRepo) Create(ctx context.Context, rec *model.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("ошибка сериализации полей: %w", err)
	}

	query := `
		INSERT INTO records (kind, sequence_number, public_id, photo_url, qr_code_url, fields,
			created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		rec.Kind, rec.SequenceNumber, rec.PublicID, rec.PhotoURL, rec.QRCodeURL, fields,
		rec.CreatedBy,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись %s уже существует", ErrConflict, rec.PublicID)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	rec.UpdatedBy = rec.CreatedBy
	return nil
}

func (r *recordRepo) GetByPublicID(ctx context.Context, kind *model.Kind, publicID string) (*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE kind = $1 AND public_id = $2`

	rec, err := scanRecord(kind, r.db.QueryRow(ctx, query, kind.Name, publicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи %s: %w", publicID, err)
	}
	return rec, nil
}

func (r *recordRepo) Exists(ctx context.Context, kind *model.Kind, publicID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE kind = $1 AND public_id = $2)`,
		kind.Name, publicID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки записи %s: %w", publicID, err)
	}
	return exists, nil
}

func (r *recordRepo) Update(ctx context.Context, rec *model.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("ошибка сериализации полей: %w", err)
	}

	query := `
		UPDATE records
		SET photo_url = $3, qr_code_url = $4, fields = $5, updated_by = $6, updated_at = now()
		WHERE kind = $1 AND public_id = $2
		RETURNING sequence_number, created_by, created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		rec.Kind, rec.PublicID, rec.PhotoURL, rec.QRCodeURL, fields, rec.UpdatedBy,
	).Scan(&rec.SequenceNumber, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления записи %s: %w", rec.PublicID, err)
	}
	return nil
}

func (r *recordRepo) UpdateQRCode(ctx context.Context, kind *model.Kind, publicID, qrURL string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE records SET qr_code_url = $3, updated_at = now() WHERE kind = $1 AND public_id = $2`,
		kind.Name, publicID, qrURL,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления QR-кода %s: %w", publicID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepo) Delete(ctx context.Context, kind *model.Kind, publicID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM records WHERE kind = $1 AND public_id = $2`,
		kind.Name, publicID,
	)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи %s: %w", publicID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepo) List(ctx context.Context, kind *model.Kind, limit, offset int) ([]*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE kind = $1
		ORDER BY created_at DESC, sequence_number DESC`
	args := []any{kind.Name}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения записи: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *recordRepo) Count(ctx context.Context, kind *model.Kind) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE kind = $1`, kind.Name).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return n, nil
}

// scanRecord читает строку records и разбирает JSONB по схеме вида.
func scanRecord(kind *model.Kind, row pgx.Row) (*model.Record, error) {
	rec := &model.Record{}
	var fields []byte
	err := row.Scan(
		&rec.Kind, &rec.SequenceNumber, &rec.PublicID, &rec.PhotoURL, &rec.QRCodeURL, &fields,
		&rec.CreatedBy, &rec.UpdatedBy, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Fields, err = kind.DecodeFields(fields)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
