// Пакет journal — файловый журнал незавершённых операций с записями.
// Каждая операция вставки или удаления — отдельный файл {tx_id}.journal.json.
// Незавершённые (pending) записи после сбоя разбирает фоновая сверка:
// осиротевшие артефакты удаляются, начатое удаление доводится до конца.
package journal

import "time"

// OperationType — тип операции, записываемой в журнал.
type OperationType string

const (
	// OpInsert — создание записи (артефакты загружаются до строки в БД)
	OpInsert OperationType = "insert"
	// OpDelete — удаление записи (артефакты удаляются до строки в БД)
	OpDelete OperationType = "delete"
)

// Status — статус операции.
type Status string

const (
	// StatusPending — операция начата и не завершена
	StatusPending Status = "pending"
	// StatusCommitted — операция завершена успешно
	StatusCommitted Status = "committed"
	// StatusRolledBack — операция отменена, компенсация выполнена
	StatusRolledBack Status = "rolled_back"
)

// Entry — запись журнала.
type Entry struct {
	// TransactionID — уникальный идентификатор операции (UUID v4)
	TransactionID string `json:"transaction_id"`
	// Operation — тип операции
	Operation OperationType `json:"operation"`
	// Status — текущий статус
	Status Status `json:"status"`
	// Kind — вид записи
	Kind string `json:"kind"`
	// PublicID — публичный идентификатор записи
	PublicID string `json:"public_id"`
	// Artifacts — имена объектов в хранилище, затронутых операцией
	Artifacts []string `json:"artifacts"`
	// Folder — папка артефактов записи
	Folder string `json:"folder"`
	// StartedAt — время начала (UTC)
	StartedAt time.Time `json:"started_at"`
	// CompletedAt — время завершения (UTC), nil для pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Reason — причина отмены
	Reason string `json:"reason,omitempty"`
}

// journalFileName возвращает имя файла журнала для операции.
func journalFileName(txID string) string {
	return txID + ".journal.json"
}
