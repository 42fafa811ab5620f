package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/metrics"
	"github.com/vladislavdragonenkov/jewelry/internal/storage/memory"
)

func resequencedMessage(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "masters",
		AggregateID:   "masters/",
		EventType:     "scope.resequenced",
		Payload:       []byte(`{"items":[{"id":"m-2","sequence":1},{"id":"m-1","sequence":2}]}`),
	}
}

func newTestWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	opts = append([]Option{
		WithRegisterer(prometheus.NewRegistry()),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	}, opts...)
	return NewWorker(repo, publisher, opts...)
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	_, err := repo.Enqueue(ctx, resequencedMessage("msg-1"))
	require.NoError(t, err)
	publisher := &stubPublisher{}

	worker := newTestWorker(repo, publisher)

	require.Equal(t, 1, worker.ProcessOnce(ctx))
	require.Equal(t, 1, publisher.calls())
	require.Equal(t, "msg-1", publisher.last().ID)
	require.Empty(t, repo.AllPending())
	require.Equal(t, 1.0, publishAttempts(t, worker, metrics.PublishSent))
	require.Equal(t, 0.0, pendingRecords(t, worker))
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{resequencedMessage("msg-2")}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubPublisher{}

	worker := newTestWorker(repo, publisher, WithDLQPublisher(dlqPublisher))

	require.Equal(t, 0, worker.ProcessOnce(context.Background()))
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.sentIDs)
	require.Equal(t, []string{"msg-2"}, repo.failedIDs)
	require.Equal(t, 1, dlqPublisher.calls())

	var letter deadLetter
	require.NoError(t, json.Unmarshal(dlqPublisher.last().Payload, &letter))
	require.Equal(t, "msg-2", letter.OutboxID)
	require.Equal(t, "masters/", letter.AggregateID)
	require.Contains(t, letter.PublishError, "broker unavailable")
	require.JSONEq(t, string(resequencedMessage("msg-2").Payload), string(letter.Payload))

	require.Equal(t, 3.0, publishAttempts(t, worker, metrics.PublishRetryError))
	require.Equal(t, 1.0, publishAttempts(t, worker, metrics.PublishFailed))
}

func TestWorker_ProcessOnce_DLQFailureStillMarksFailed(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{resequencedMessage("msg-4")}}
	worker := newTestWorker(repo,
		&stubPublisher{err: errors.New("broker unavailable")},
		WithDLQPublisher(&stubPublisher{err: errors.New("dlq unavailable")}),
		WithMaxAttempts(1),
	)

	worker.ProcessOnce(context.Background())

	require.Equal(t, []string{"msg-4"}, repo.failedIDs)
	require.Equal(t, 1.0, publishAttempts(t, worker, metrics.PublishDLQFailed))
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{resequencedMessage("msg-3")}}
	publisher := &stubPublisher{
		sequenceErrors: []error{
			errors.New("attempt 1"),
			errors.New("attempt 2"),
			nil,
		},
	}

	worker := newTestWorker(repo, publisher)

	require.Equal(t, 1, worker.ProcessOnce(context.Background()))
	require.Equal(t, 3, publisher.calls())
	require.Equal(t, []string{"msg-3"}, repo.sentIDs)
	require.Empty(t, repo.failedIDs)
}

func TestWorker_ProcessOnce_PullErrorIsLogged(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pullErr: errors.New("connection refused")}
	publisher := &stubPublisher{}

	worker := newTestWorker(repo, publisher)

	require.Equal(t, 0, worker.ProcessOnce(context.Background()))
	require.Zero(t, publisher.calls())
}

func TestWorker_ProcessOnce_RespectsBatchSize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	for _, id := range []string{"a", "b", "c"} {
		_, err := repo.Enqueue(ctx, resequencedMessage(id))
		require.NoError(t, err)
	}
	publisher := &stubPublisher{}

	worker := newTestWorker(repo, publisher, WithBatchSize(2))

	require.Equal(t, 2, worker.ProcessOnce(ctx))
	require.Len(t, repo.AllPending(), 1)
	require.Equal(t, 1.0, pendingRecords(t, worker))
}

func TestWorker_ProcessOnce_CanceledContext(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{resequencedMessage("msg-5")}}
	publisher := &stubPublisher{}
	worker := newTestWorker(repo, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Zero(t, worker.ProcessOnce(ctx))
	require.Zero(t, publisher.calls())
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := newTestWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))

	require.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	require.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	require.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))
	require.Equal(t, maxRetryDelay, worker.retryBackoff(64))

	worker = newTestWorker(&stubOutboxRepo{}, &stubPublisher{})
	require.Zero(t, worker.retryBackoff(5))
}

func TestNewWorker_ReusesRegisteredMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRegisterer(reg))
	second := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRegisterer(reg))

	first.metrics.RecordPublish(metrics.PublishSent)
	second.metrics.RecordPublish(metrics.PublishSent)
	require.Equal(t, 2.0, publishAttempts(t, second, metrics.PublishSent))
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := newTestWorker(&stubOutboxRepo{}, &stubPublisher{}, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	worker := newTestWorker(&stubOutboxRepo{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker must return immediately")
	}
}

type stubOutboxRepo struct {
	mu        sync.Mutex
	pending   []domain.OutboxMessage
	pullErr   error
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pullErr != nil {
		return nil, s.pullErr
	}
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats(context.Context) (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
}

func (s *stubPublisher) Publish(msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.published = append(s.published, msg)
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}

	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

var _ domain.OutboxRepository = (*stubOutboxRepo)(nil)
var _ domain.OutboxPublisher = (*stubPublisher)(nil)

func publishAttempts(t *testing.T, w *Worker, result string) float64 {
	t.Helper()
	return gathered(t, w, "jewelry_outbox_publish_attempts_total", result)
}

func pendingRecords(t *testing.T, w *Worker) float64 {
	t.Helper()
	return gathered(t, w, "jewelry_outbox_pending_records", "")
}

// gathered читает значение метрики из registry воркера; result фильтрует по label.
func gathered(t *testing.T, w *Worker, name, result string) float64 {
	t.Helper()

	gatherer, ok := w.registerer.(prometheus.Gatherer)
	require.True(t, ok, "worker registerer must be a registry")
	families, err := gatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := result == ""
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					matched = true
				}
			}
			if !matched {
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
