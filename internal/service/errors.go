// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrRemoteStorage — объектное хранилище недоступно или отклонило операцию.
	ErrRemoteStorage = errors.New("объектное хранилище недоступно")
	// ErrSequenceConflict — не удалось выделить свободный порядковый номер.
	ErrSequenceConflict = errors.New("конфликт порядкового номера")
	// ErrUnknownKind — неизвестный вид записи.
	ErrUnknownKind = errors.New("неизвестный вид записи")
	// ErrPhotoTooLarge — фотография превышает допустимый размер.
	ErrPhotoTooLarge = errors.New("фотография превышает допустимый размер")
)
