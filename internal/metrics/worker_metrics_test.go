package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestOutboxMetrics_RecordPublishAndBacklog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.RecordPublish(PublishSent)
	m.RecordPublish(PublishRetryError)
	m.RecordPublish(PublishRetryError)

	require.Equal(t, 1.0, testutil.ToFloat64(m.publishAttempts.WithLabelValues(PublishSent)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.publishAttempts.WithLabelValues(PublishRetryError)))

	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	m.SetBacklog(4, now.Add(-90*time.Second), now)
	require.Equal(t, 4.0, testutil.ToFloat64(m.pendingRecords))
	require.Equal(t, 90.0, testutil.ToFloat64(m.oldestPendingAge))

	// часы отстают от времени записи
	m.SetBacklog(1, now.Add(time.Minute), now)
	require.Zero(t, testutil.ToFloat64(m.oldestPendingAge))

	m.SetBacklog(0, now.Add(-time.Hour), now)
	require.Zero(t, testutil.ToFloat64(m.pendingRecords))
	require.Zero(t, testutil.ToFloat64(m.oldestPendingAge))
}

func TestOutboxMetrics_ReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewOutboxMetrics(reg)
	second := NewOutboxMetrics(reg)

	require.Same(t, first.publishAttempts, second.publishAttempts)
}

func TestCleanupMetrics_RecordRun(t *testing.T) {
	m := NewCleanupMetrics(prometheus.NewRegistry())

	m.AddDeleted(3)
	m.AddDeleted(0)
	m.RecordRun(3, nil)
	m.RecordRun(0, errors.New("connection reset"))

	require.Equal(t, 3.0, testutil.ToFloat64(m.deleted))
	require.Equal(t, 3.0, testutil.ToFloat64(m.lastDeleted))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultError)))
}

func TestNilWorkerMetrics(t *testing.T) {
	var outbox *OutboxMetrics
	var cleanup *CleanupMetrics

	require.NotPanics(t, func() {
		outbox.RecordPublish(PublishSent)
		outbox.SetBacklog(1, time.Now(), time.Now())
		cleanup.AddDeleted(1)
		cleanup.RecordRun(1, nil)
	})
}
