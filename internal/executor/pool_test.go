package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/monitor"
	"github.com/t77yq/alert-engine/internal/scheduler"
	"github.com/t77yq/alert-engine/internal/testutil"
)

type slowEvaluator struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32

	mu   sync.Mutex
	seen map[string]int
	fail map[string]error
	boom string
}

func (e *slowEvaluator) EvaluateTenant(_ context.Context, tenantID string) (*model.TenantReport, error) {
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(e.delay)

	e.mu.Lock()
	e.seen[tenantID]++
	err := e.fail[tenantID]
	e.mu.Unlock()

	if tenantID == e.boom {
		panic("evaluation bug")
	}
	if err != nil {
		return nil, err
	}
	return &model.TenantReport{TenantID: tenantID}, nil
}

func (e *slowEvaluator) count(tenantID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen[tenantID]
}

func (e *slowEvaluator) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.seen {
		n += c
	}
	return n
}

func startPool(t *testing.T, evaluator TenantEvaluator, metrics *monitor.Metrics, workers int, tenants ...string) (*Pool, func() uint64) {
	t.Helper()
	js, cleanup := testutil.SetupJetStream(t)
	t.Cleanup(cleanup)

	queue, err := scheduler.NewQueue(js, scheduler.QueueConfig{AckWait: time.Second, MaxDeliver: 2}, zap.NewNop())
	require.NoError(t, err)
	for _, tenant := range tenants {
		require.NoError(t, queue.Enqueue(context.Background(), &model.TenantJob{TenantID: tenant, TickID: "tick-1"}))
	}

	sub, err := queue.Subscribe()
	require.NoError(t, err)
	require.NoError(t, testutil.WaitForConsumer(t, js, scheduler.StreamName, scheduler.ConsumerName, 5*time.Second))

	pool := NewPool(evaluator, metrics, PoolConfig{
		Workers:   workers,
		FetchWait: 100 * time.Millisecond,
		AckWait:   queue.AckWait(),
	}, zap.NewNop())
	pool.Start(context.Background(), sub)
	t.Cleanup(pool.Stop)

	return pool, func() uint64 { return testutil.StreamMessages(t, js, scheduler.StreamName) }
}

func TestPoolBoundsConcurrency(t *testing.T) {
	evaluator := &slowEvaluator{delay: 100 * time.Millisecond, seen: map[string]int{}}
	metrics := monitor.NewMetrics(prometheus.NewRegistry())

	tenants := make([]string, 10)
	for i := range tenants {
		tenants[i] = fmt.Sprintf("tenant-%d", i)
	}
	pool, pending := startPool(t, evaluator, metrics, 3, tenants...)

	require.Eventually(t, func() bool { return evaluator.total() == len(tenants) }, 10*time.Second, 20*time.Millisecond)
	assert.LessOrEqual(t, evaluator.peak.Load(), int32(3))
	assert.Greater(t, evaluator.peak.Load(), int32(1), "tenants run in parallel")
	for _, tenant := range tenants {
		assert.Equal(t, 1, evaluator.count(tenant), tenant)
	}

	assert.Eventually(t, func() bool { return pending() == 0 }, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return pool.Stats().Processed == int64(len(tenants)) }, 2*time.Second, 20*time.Millisecond)

	stats := pool.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Zero(t, stats.Busy)
	assert.NotEmpty(t, stats.LastTenantID)
	assert.Equal(t, float64(len(tenants)), promtest.ToFloat64(metrics.JobsProcessed.WithLabelValues("succeeded")))
}

func TestPoolFailuresAreIsolated(t *testing.T) {
	evaluator := &slowEvaluator{
		seen: map[string]int{},
		fail: map[string]error{"flaky": errors.New("database is locked")},
		boom: "cursed",
	}
	metrics := monitor.NewMetrics(prometheus.NewRegistry())
	pool, _ := startPool(t, evaluator, metrics, 2, "flaky", "cursed", "healthy")

	// the failed job is redelivered once, the panicking one is not
	require.Eventually(t, func() bool { return evaluator.count("flaky") == 2 }, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, evaluator.count("healthy"))
	assert.Equal(t, 1, evaluator.count("cursed"))

	assert.Eventually(t, func() bool {
		return promtest.ToFloat64(metrics.PanicsRecovered.WithLabelValues("worker")) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return pool.Stats().Failed == 3 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(1), pool.Stats().Processed)
}

func TestPoolHeartbeatPreventsRedelivery(t *testing.T) {
	// the job outlives the one second ack wait several times over
	evaluator := &slowEvaluator{delay: 2500 * time.Millisecond, seen: map[string]int{}}
	pool, pending := startPool(t, evaluator, nil, 2, "slow")

	require.Eventually(t, func() bool { return pool.Stats().Processed == 1 }, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, 1, evaluator.count("slow"))
	assert.Equal(t, int32(1), evaluator.peak.Load())
	assert.Eventually(t, func() bool { return pending() == 0 }, 2*time.Second, 20*time.Millisecond)

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 1, evaluator.count("slow"))
}

func TestPoolStopWithoutStart(t *testing.T) {
	pool := NewPool(&slowEvaluator{seen: map[string]int{}}, nil, PoolConfig{}, zap.NewNop())
	pool.Stop()
	assert.Equal(t, 5, pool.Stats().Workers)
}
