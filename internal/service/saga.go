package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// compensationTimeout — время на выполнение всех компенсаций одной операции.
const compensationTimeout = 30 * time.Second

// Saga накапливает компенсирующие действия для шагов операции,
// уже выполненных во внешних системах. При сбое шаги отменяются
// в обратном порядке.
type Saga struct {
	steps  []sagaStep
	logger *slog.Logger
}

type sagaStep struct {
	name string
	undo func(ctx context.Context) error
}

// NewSaga создаёт пустую сагу.
func NewSaga(logger *slog.Logger) *Saga {
	return &Saga{logger: logger}
}

// Add регистрирует компенсацию выполненного шага.
func (s *Saga) Add(name string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, sagaStep{name: name, undo: undo})
}

// Len возвращает количество зарегистрированных компенсаций.
func (s *Saga) Len() int {
	return len(s.steps)
}

// Compensate выполняет компенсации в обратном порядке. Отмена ctx
// не прерывает компенсацию: используется отдельный таймаут.
// Возвращает объединённую ошибку неудавшихся шагов.
func (s *Saga) Compensate(ctx context.Context) error {
	if len(s.steps) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(cctx); err != nil {
			s.logger.Error("Ошибка компенсации",
				slog.String("step", step.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		s.logger.Debug("Шаг компенсирован", slog.String("step", step.name))
	}
	compensationsTotal.Add(float64(len(s.steps)))
	s.steps = nil

	return errors.Join(errs...)
}
