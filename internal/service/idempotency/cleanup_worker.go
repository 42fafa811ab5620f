package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRegisterer задаёт registerer метрик очистки.
func WithRegisterer(registerer prometheus.Registerer) CleanupOption {
	return func(w *CleanupWorker) {
		w.registerer = registerer
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// CleanupWorker периодически удаляет ключи идемпотентности с истёкшим TTL.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	registerer prometheus.Registerer
	metrics    *metrics.CleanupMetrics
	interval   time.Duration
	batchSize  int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-cleanup-worker"),
		registerer: prometheus.DefaultRegisterer,
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	w.metrics = metrics.NewCleanupMetrics(w.registerer)
	return w
}

// Run чистит хранилище сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("очистка ключей идемпотентности отключена: нет хранилища")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.cleanup(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.now())
	if errors.Is(err, context.Canceled) {
		return
	}
	w.metrics.RecordRun(deleted, err)

	switch {
	case err != nil:
		w.logger.WithError(err).Warn("очистка ключей идемпотентности не удалась")
	case deleted > 0:
		w.logger.WithField("deleted", deleted).Info("удалены просроченные ключи идемпотентности")
	}
}

// DeleteExpired удаляет все ключи с TTL не позже before порциями batchSize.
// Возвращает число удалённых ключей, в том числе при ошибке на середине.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		w.metrics.AddDeleted(deleted)

		// неполная порция означает, что просроченных ключей больше нет
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
