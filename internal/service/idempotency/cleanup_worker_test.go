package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/metrics"
	"github.com/vladislavdragonenkov/jewelry/internal/storage/memory"
)

var _ domain.IdempotencyRepository = (*stubCleanupRepo)(nil)

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteResults: []int{2, 2, 1}}
	worker := NewCleanupWorker(repo, WithBatchSize(2), WithRegisterer(prometheus.NewRegistry()))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 5, deleted)
	require.Equal(t, 3, repo.calls())
	require.Equal(t, 5.0, cleanupMetric(t, worker, "jewelry_idempotency_cleanup_deleted_total", ""))
}

func TestCleanupWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteErrors: []error{errors.New("connection reset")}}
	worker := NewCleanupWorker(repo, WithBatchSize(10), WithRegisterer(prometheus.NewRegistry()))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	require.Error(t, err)
	require.Zero(t, deleted)
}

func TestCleanupWorker_DeleteExpired_CanceledContext(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{}
	worker := NewCleanupWorker(repo, WithRegisterer(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := worker.DeleteExpired(ctx, time.Time{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, repo.calls())
}

func TestCleanupWorker_RemovesOnlyExpiredKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	_, err := repo.CreateProcessing(ctx, "create-master-1", "hash-1", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "create-master-2", "hash-2", now.Add(time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo,
		WithRegisterer(prometheus.NewRegistry()),
		WithClock(func() time.Time { return now }),
	)
	worker.cleanup(ctx)

	_, err = repo.Get(ctx, "create-master-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "create-master-2")
	require.NoError(t, err)

	require.Equal(t, 1.0, cleanupMetric(t, worker, "jewelry_idempotency_cleanup_last_deleted", ""))
	require.Equal(t, 1.0, cleanupMetric(t, worker, "jewelry_idempotency_cleanup_runs_total", metrics.ResultSuccess))
}

func TestCleanupWorker_CleanupCountsErrors(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteErrors: []error{errors.New("connection reset")}}
	worker := NewCleanupWorker(repo, WithRegisterer(prometheus.NewRegistry()))

	worker.cleanup(context.Background())

	require.Equal(t, 1.0, cleanupMetric(t, worker, "jewelry_idempotency_cleanup_runs_total", metrics.ResultError))
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteResults: []int{0, 0, 0}}
	worker := NewCleanupWorker(
		repo,
		WithInterval(5*time.Millisecond),
		WithBatchSize(10),
		WithRegisterer(prometheus.NewRegistry()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	require.NotZero(t, repo.calls())
}

type stubCleanupRepo struct {
	mu sync.Mutex

	deleteResults []int
	deleteErrors  []error
	callCount     int
}

func (s *stubCleanupRepo) CreateProcessing(context.Context, string, string, time.Time) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *stubCleanupRepo) Get(context.Context, string) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *stubCleanupRepo) MarkDone(context.Context, string, []byte, int) error {
	panic("not implemented")
}

func (s *stubCleanupRepo) MarkFailed(context.Context, string, []byte, int) error {
	panic("not implemented")
}

func (s *stubCleanupRepo) DeleteExpired(context.Context, time.Time, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}

	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

// cleanupMetric читает значение метрики из registry воркера.
func cleanupMetric(t *testing.T, w *CleanupWorker, name, result string) float64 {
	t.Helper()

	registry, ok := w.registerer.(*prometheus.Registry)
	require.True(t, ok, "worker must use a test registry")
	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if result != "" && !hasResultLabel(metric.GetLabel(), result) {
				continue
			}
			if counter := metric.GetCounter(); counter != nil {
				return counter.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func hasResultLabel(labels []*dto.LabelPair, result string) bool {
	for _, label := range labels {
		if label.GetName() == "result" && label.GetValue() == result {
			return true
		}
	}
	return false
}
