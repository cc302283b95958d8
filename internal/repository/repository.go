// Пакет repository хранит записи сварочного журнала и счётчики номеров
// (таблицы records и record_sequences).
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound: нет записи с таким publicId.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict: номер или publicId уже заняты другой записью.
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX: общее подмножество *pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation ловит срабатывание UNIQUE (kind, sequence_number) и UNIQUE (kind, public_id).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
