package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики сервисного слоя
var (
	// recordOperationsTotal — операции с записями по виду, операции и результату.
	recordOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wqt_record_operations_total",
		Help: "Количество операций с записями",
	}, []string{"kind", "operation", "result"})

	// sequenceRetriesTotal — повторные выделения номера после конфликта.
	sequenceRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wqt_sequence_retries_total",
		Help: "Количество повторных выделений порядкового номера после конфликта",
	}, []string{"kind"})

	// compensationsTotal — выполненные компенсирующие шаги.
	compensationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wqt_saga_compensations_total",
		Help: "Количество выполненных компенсирующих шагов",
	})

	// storageDurationSeconds — длительность операций с объектным хранилищем.
	storageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wqt_storage_operation_duration_seconds",
		Help:    "Длительность операций с объектным хранилищем в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"backend", "operation", "result"})

	// cacheRequestsTotal — обращения к кэшу записей.
	cacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wqt_record_cache_requests_total",
		Help: "Количество обращений к кэшу записей",
	}, []string{"result"})

	// sweepRunsTotal — запуски сверки журнала.
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wqt_journal_sweep_runs_total",
		Help: "Количество запусков сверки журнала",
	})

	// sweepRecoveredTotal — незавершённые операции, разобранные сверкой.
	sweepRecoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wqt_journal_recovered_total",
		Help: "Количество незавершённых операций, разобранных сверкой",
	}, []string{"operation", "outcome"})
)

// resultLabel возвращает значение метки result.
func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
