package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/monitor"
	"github.com/t77yq/alert-engine/internal/storage"
	"github.com/t77yq/alert-engine/internal/testutil"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*monitor.Event
}

func (p *capturePublisher) Publish(_ context.Context, event *monitor.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) Types() []monitor.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []monitor.EventType
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func newService(t *testing.T) (*Service, *capturePublisher) {
	publisher := &capturePublisher{}
	store := testutil.NewStore(t)
	return NewService(store, monitor.NewEvents(publisher, nil, zap.NewNop()), nil, zap.NewNop()), publisher
}

func testRule() *model.Rule {
	return &model.Rule{ID: "r1", TenantID: "t1", Name: "High CPU", Priority: model.PriorityCritical}
}

func TestCreateCopiesSeverity(t *testing.T) {
	svc, publisher := newService(t)
	ctx := context.Background()

	rule := testRule()
	instance, err := svc.Create(ctx, rule, &model.Snapshot{ConditionID: "c1", ObservedValue: 95.0}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusActive, instance.Status)
	assert.Equal(t, model.PriorityCritical, instance.Severity)

	// later priority edits do not rewrite history
	rule.Priority = model.PriorityLow
	stored, err := svc.Get(ctx, "t1", instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityCritical, stored.Severity)
	assert.Equal(t, "c1", stored.TriggerData.ConditionID)

	assert.Equal(t, []monitor.EventType{monitor.EventAlertCreated}, publisher.Types())
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("active to resolved directly", func(t *testing.T) {
		svc, _ := newService(t)
		instance, err := svc.Create(ctx, testRule(), nil, time.Now())
		require.NoError(t, err)

		resolved, err := svc.Resolve(ctx, "t1", instance.ID, "alice", "false positive")
		require.NoError(t, err)
		assert.Equal(t, model.AlertStatusResolved, resolved.Status)
		assert.Equal(t, "alice", resolved.ResolvedBy)
		assert.Equal(t, "false positive", resolved.ResolutionNote)
		require.NotNil(t, resolved.ResolvedAt)
	})

	t.Run("acknowledge then resolve", func(t *testing.T) {
		svc, publisher := newService(t)
		instance, err := svc.Create(ctx, testRule(), nil, time.Now())
		require.NoError(t, err)

		_, err = svc.Acknowledge(ctx, "t1", instance.ID, "bob", "")
		require.NoError(t, err)
		_, err = svc.Resolve(ctx, "t1", instance.ID, "bob", "fixed")
		require.NoError(t, err)

		stored, err := svc.Get(ctx, "t1", instance.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AlertStatusResolved, stored.Status)
		assert.Equal(t, "bob", stored.AcknowledgedBy)
		assert.NotNil(t, stored.AcknowledgedAt)
		assert.Equal(t, "fixed", stored.ResolutionNote)

		assert.Equal(t, []monitor.EventType{
			monitor.EventAlertCreated,
			monitor.EventAlertAcknowledged,
			monitor.EventAlertResolved,
		}, publisher.Types())
	})

	t.Run("nothing leaves resolved", func(t *testing.T) {
		svc, _ := newService(t)
		instance, err := svc.Create(ctx, testRule(), nil, time.Now())
		require.NoError(t, err)
		_, err = svc.Resolve(ctx, "t1", instance.ID, "alice", "")
		require.NoError(t, err)

		_, err = svc.Acknowledge(ctx, "t1", instance.ID, "alice", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = svc.Resolve(ctx, "t1", instance.ID, "alice", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = svc.Suppress(ctx, "t1", instance.ID, "alice", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("acknowledged cannot be suppressed", func(t *testing.T) {
		svc, _ := newService(t)
		instance, err := svc.Create(ctx, testRule(), nil, time.Now())
		require.NoError(t, err)
		_, err = svc.Acknowledge(ctx, "t1", instance.ID, "alice", "")
		require.NoError(t, err)
		_, err = svc.Suppress(ctx, "t1", instance.ID, "alice", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("suppressed can still be resolved", func(t *testing.T) {
		svc, publisher := newService(t)
		instance, err := svc.Create(ctx, testRule(), nil, time.Now())
		require.NoError(t, err)
		_, err = svc.Suppress(ctx, "t1", instance.ID, "alice", "maintenance")
		require.NoError(t, err)

		_, err = svc.Acknowledge(ctx, "t1", instance.ID, "alice", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		resolved, err := svc.Resolve(ctx, "t1", instance.ID, "bob", "done")
		require.NoError(t, err)
		assert.Equal(t, model.AlertStatusResolved, resolved.Status)
		assert.Equal(t, "alice", resolved.SuppressedBy)
		assert.Equal(t, "bob", resolved.ResolvedBy)

		assert.Equal(t, []monitor.EventType{
			monitor.EventAlertCreated,
			monitor.EventAlertSuppressed,
			monitor.EventAlertResolved,
		}, publisher.Types())
	})

	t.Run("actor is required", func(t *testing.T) {
		svc, _ := newService(t)
		instance, err := svc.Create(ctx, testRule(), nil, time.Now())
		require.NoError(t, err)
		_, err = svc.Acknowledge(ctx, "t1", instance.ID, "  ", "")
		assert.ErrorIs(t, err, ErrActorRequired)
	})

	t.Run("other tenants cannot see the instance", func(t *testing.T) {
		svc, _ := newService(t)
		instance, err := svc.Create(ctx, testRule(), nil, time.Now())
		require.NoError(t, err)
		_, err = svc.Resolve(ctx, "t2", instance.ID, "mallory", "")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestList(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		instance, err := svc.Create(ctx, testRule(), nil, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		ids = append(ids, instance.ID)
	}
	_, err := svc.Resolve(ctx, "t1", ids[0], "alice", "")
	require.NoError(t, err)

	instances, total, err := svc.List(ctx, "t1", storage.InstanceFilter{Status: model.AlertStatusActive}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, instances, 2)
	assert.Equal(t, ids[2], instances[0].ID)

	page, total, err := svc.List(ctx, "t1", storage.InstanceFilter{}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	_, _, err = svc.List(ctx, "t1", storage.InstanceFilter{Status: "open"}, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
