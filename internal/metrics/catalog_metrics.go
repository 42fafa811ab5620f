package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для label result.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// CatalogMetrics содержит метрики операций над справочниками.
type CatalogMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Размер пакета resequence (количество пар {id, sequence}).
	resequenceBatch prometheus.Histogram
	// Отклонённые перестановки: неверный индекс, разрыв нумерации, дубликаты.
	rejectedSequences *prometheus.CounterVec

	historyEvents prometheus.Counter
	outboxEvents  *prometheus.CounterVec
}

// NewCatalogMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewCatalogMetrics() *CatalogMetrics {
	return NewCatalogMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCatalogMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCatalogMetricsWithRegisterer(registerer prometheus.Registerer) *CatalogMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CatalogMetrics{
		operations: Register(registerer, "jewelry_catalog_operations_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jewelry_catalog_operations_total",
			Help: "Total number of catalog operations by kind, operation and result",
		}, []string{"kind", "operation", "result"})),
		operationDuration: Register(registerer, "jewelry_catalog_operation_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jewelry_catalog_operation_duration_seconds",
			Help:    "Duration of catalog operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"})),
		resequenceBatch: Register(registerer, "jewelry_catalog_resequence_batch_size", prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jewelry_catalog_resequence_batch_size",
			Help:    "Number of {id, sequence} pairs per bulk resequence request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		})),
		rejectedSequences: Register(registerer, "jewelry_catalog_rejected_sequences_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jewelry_catalog_rejected_sequences_total",
			Help: "Total number of rejected reorder and resequence requests",
		}, []string{"kind"})),
		historyEvents: Register(registerer, "jewelry_catalog_history_events_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jewelry_catalog_history_events_total",
			Help: "Total number of sequence history events recorded",
		})),
		outboxEvents: Register(registerer, "jewelry_catalog_outbox_events_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jewelry_catalog_outbox_events_total",
			Help: "Total number of sequence events enqueued to outbox",
		}, []string{"event_type"})),
	}
}

// Register регистрирует collector; при повторной регистрации возвращает уже существующий.
// Паникует, если имя занято коллектором другого типа.
func Register[C prometheus.Collector](registerer prometheus.Registerer, name string, collector C) C {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// RecordOperation учитывает результат и длительность операции над справочником.
func (m *CatalogMetrics) RecordOperation(kind, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.operations.WithLabelValues(kind, operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordResequenceBatch записывает размер пакета resequence.
func (m *CatalogMetrics) RecordResequenceBatch(size int) {
	if m == nil {
		return
	}
	m.resequenceBatch.Observe(float64(size))
}

// RecordRejectedSequence увеличивает счётчик отклонённых перестановок.
func (m *CatalogMetrics) RecordRejectedSequence(kind string) {
	if m == nil {
		return
	}
	m.rejectedSequences.WithLabelValues(kind).Inc()
}

// RecordHistoryEvent увеличивает счётчик событий истории.
func (m *CatalogMetrics) RecordHistoryEvent() {
	if m == nil {
		return
	}
	m.historyEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий, поставленных в outbox.
func (m *CatalogMetrics) RecordOutboxEvent(eventType string) {
	if m == nil {
		return
	}
	m.outboxEvents.WithLabelValues(eventType).Inc()
}
