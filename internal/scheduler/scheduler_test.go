package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/monitor"
	"github.com/t77yq/alert-engine/internal/testutil"
)

type staticTenants []string

func (s staticTenants) ListTenantsWithEnabledRules(context.Context) ([]string, error) {
	return s, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []*model.TenantJob
	fail string
}

func (q *recordingQueue) Enqueue(_ context.Context, job *model.TenantJob) error {
	if job.TenantID == q.fail {
		return errors.New("queue unavailable")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakePurger struct {
	before time.Time
}

func (p *fakePurger) DeleteInstancesBefore(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return 4, nil
}

func TestQueue(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	queue, err := NewQueue(js, QueueConfig{}, zap.NewNop())
	require.NoError(t, err)

	t.Run("Setup", func(t *testing.T) {
		stream, err := js.StreamInfo(StreamName)
		require.NoError(t, err)
		assert.Equal(t, nats.WorkQueuePolicy, stream.Config.Retention)
		assert.Equal(t, []string{Subject}, stream.Config.Subjects)

		// a second queue reuses the stream
		_, err = NewQueue(js, QueueConfig{}, zap.NewNop())
		require.NoError(t, err)
	})

	t.Run("Enqueue deduplicates tenant and tick", func(t *testing.T) {
		ctx := context.Background()
		job := &model.TenantJob{TenantID: "t1", TickID: "20240101T000000Z"}
		require.NoError(t, queue.Enqueue(ctx, job))
		require.NoError(t, queue.Enqueue(ctx, &model.TenantJob{TenantID: "t1", TickID: "20240101T000000Z"}))
		require.NoError(t, queue.Enqueue(ctx, &model.TenantJob{TenantID: "t2", TickID: "20240101T000000Z"}))

		assert.Equal(t, uint64(2), testutil.StreamMessages(t, js, StreamName))
	})

	t.Run("Enqueue rejects empty jobs", func(t *testing.T) {
		err := queue.Enqueue(context.Background(), &model.TenantJob{TickID: "x"})
		assert.ErrorIs(t, err, ErrInvalidJob)
	})

	t.Run("Subscribe delivers and removes on ack", func(t *testing.T) {
		sub, err := queue.Subscribe()
		require.NoError(t, err)
		defer sub.Unsubscribe()

		msgs, err := sub.Fetch(2, nats.MaxWait(2*time.Second))
		require.NoError(t, err)
		require.Len(t, msgs, 2)

		tenants := map[string]bool{}
		for _, msg := range msgs {
			job, err := DecodeJob(msg.Data)
			require.NoError(t, err)
			tenants[job.TenantID] = true
			require.NoError(t, msg.AckSync())
		}
		assert.Equal(t, map[string]bool{"t1": true, "t2": true}, tenants)
		assert.Eventually(t, func() bool {
			return testutil.StreamMessages(t, js, StreamName) == 0
		}, 2*time.Second, 50*time.Millisecond)
	})
}

func TestSchedulerTick(t *testing.T) {
	metrics := monitor.NewMetrics(prometheus.NewRegistry())
	queue := &recordingQueue{fail: "t2"}
	s, err := New(staticTenants{"t1", "t2", "t3"}, queue, nil, metrics, Config{}, zap.NewNop())
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "a failing tenant does not stop the others")
	require.Equal(t, 2, queue.count())
	assert.Equal(t, "t1", queue.jobs[0].TenantID)
	assert.Equal(t, "20240301T120000Z", queue.jobs[0].TickID)
	assert.Equal(t, "t3", queue.jobs[1].TenantID)
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.JobsEnqueued))
}

func TestSchedulerTickWithJetStream(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	queue, err := NewQueue(js, QueueConfig{}, zap.NewNop())
	require.NoError(t, err)
	s, err := New(staticTenants{"t1", "t2"}, queue, nil, nil, Config{}, zap.NewNop())
	require.NoError(t, err)

	at := time.Now().UTC()
	s.now = func() time.Time { return at }

	_, err = s.Tick(context.Background())
	require.NoError(t, err)
	// a second replica ticking at the same instant adds nothing
	_, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), testutil.StreamMessages(t, js, StreamName))
}

func TestSchedulerStartStop(t *testing.T) {
	queue := &recordingQueue{}
	s, err := New(staticTenants{"t1"}, queue, nil, nil, Config{Spec: "@every 1s"}, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return queue.count() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
	s.Stop()

	stopped := queue.count()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, stopped, queue.count())
}

func TestSchedulerInvalidSpec(t *testing.T) {
	_, err := New(staticTenants{}, &recordingQueue{}, nil, nil, Config{Spec: "every minute"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = New(staticTenants{}, &recordingQueue{}, &fakePurger{}, nil,
		Config{RetentionSpec: "nightly", RetentionDays: 7}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestSchedulerPurge(t *testing.T) {
	metrics := monitor.NewMetrics(prometheus.NewRegistry())
	purger := &fakePurger{}
	s, err := New(staticTenants{}, &recordingQueue{}, purger, metrics, Config{RetentionDays: 30}, zap.NewNop())
	require.NoError(t, err)

	at := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	deleted, err := s.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), purger.before)
	assert.Equal(t, 4.0, promtest.ToFloat64(metrics.InstancesPurged))

	disabled, err := New(staticTenants{}, &recordingQueue{}, purger, nil, Config{}, zap.NewNop())
	require.NoError(t, err)
	deleted, err = disabled.Purge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
