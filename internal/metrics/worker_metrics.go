package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации outbox-сообщения для label result.
const (
	PublishSent       = "sent"
	PublishRetryError = "retry_error"
	PublishFailed     = "failed"
	PublishDLQFailed  = "dlq_failed"
)

// OutboxMetrics описывает доставку событий порядка из outbox в брокер.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox worker; nil означает DefaultRegisterer.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		publishAttempts: Register(registerer, "jewelry_outbox_publish_attempts_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jewelry_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"})),
		pendingRecords: Register(registerer, "jewelry_outbox_pending_records", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jewelry_outbox_pending_records",
			Help: "Current number of pending sequence events in outbox",
		})),
		oldestPendingAge: Register(registerer, "jewelry_outbox_oldest_pending_age_seconds", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jewelry_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record in seconds",
		})),
	}
}

// RecordPublish учитывает одну попытку публикации с результатом result.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер очереди и возраст самого старого сообщения.
func (m *OutboxMetrics) SetBacklog(pending int, oldest, now time.Time) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}
	m.oldestPendingAge.Set(max(now.Sub(oldest).Seconds(), 0))
}

// CleanupMetrics описывает очистку просроченных ключей идемпотентности.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewCleanupMetrics регистрирует метрики cleanup worker; nil означает DefaultRegisterer.
func NewCleanupMetrics(registerer prometheus.Registerer) *CleanupMetrics {
	return &CleanupMetrics{
		runs: Register(registerer, "jewelry_idempotency_cleanup_runs_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jewelry_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"})),
		deleted: Register(registerer, "jewelry_idempotency_cleanup_deleted_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jewelry_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency keys",
		})),
		lastDeleted: Register(registerer, "jewelry_idempotency_cleanup_last_deleted", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jewelry_idempotency_cleanup_last_deleted",
			Help: "Number of keys deleted by the last cleanup run",
		})),
	}
}

// AddDeleted увеличивает общий счётчик удалённых ключей.
func (m *CleanupMetrics) AddDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}

// RecordRun учитывает завершённый проход очистки.
func (m *CleanupMetrics) RecordRun(deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.runs.WithLabelValues(ResultError).Inc()
		return
	}
	m.runs.WithLabelValues(ResultSuccess).Inc()
	m.lastDeleted.Set(float64(deleted))
}
