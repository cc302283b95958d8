package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestSaga_CompensatesInReverseOrder(t *testing.T) {
	saga := NewSaga(testLogger())
	var order []string
	for _, name := range []string{"photo", "qr", "row"} {
		saga.Add(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := saga.Compensate(context.Background()); err != nil {
		t.Fatalf("Compensate() ошибка: %v", err)
	}
	if want := []string{"row", "qr", "photo"}; !reflect.DeepEqual(order, want) {
		t.Errorf("порядок = %v, ожидается %v", order, want)
	}
	if saga.Len() != 0 {
		t.Error("компенсации не сброшены")
	}
}

func TestSaga_ContinuesAfterFailure(t *testing.T) {
	saga := NewSaga(testLogger())
	boom := errors.New("boom")
	ran := 0
	saga.Add("first", func(context.Context) error { ran++; return nil })
	saga.Add("second", func(context.Context) error { ran++; return boom })

	err := saga.Compensate(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("ошибка = %v, ожидается boom", err)
	}
	if ran != 2 {
		t.Errorf("выполнено шагов = %d, ожидается 2", ran)
	}
}

func TestSaga_IgnoresCanceledContext(t *testing.T) {
	saga := NewSaga(testLogger())
	var stepErr error
	saga.Add("step", func(ctx context.Context) error {
		stepErr = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := saga.Compensate(ctx); err != nil {
		t.Fatal(err)
	}
	if stepErr != nil {
		t.Errorf("контекст компенсации отменён: %v", stepErr)
	}
}
