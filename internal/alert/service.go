package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/monitor"
	"github.com/t77yq/alert-engine/internal/storage"
)

// Store is the instance persistence the lifecycle service needs
type Store interface {
	CreateInstance(ctx context.Context, instance *model.AlertInstance) error
	GetInstance(ctx context.Context, tenantID, id string) (*model.AlertInstance, error)
	ListInstances(ctx context.Context, tenantID string, filter storage.InstanceFilter, offset, limit int) ([]*model.AlertInstance, error)
	CountInstances(ctx context.Context, tenantID string, filter storage.InstanceFilter) (int, error)
	UpdateInstanceStatus(ctx context.Context, instance *model.AlertInstance, from model.AlertStatus) error
}

// Service owns alert instance creation and status transitions
type Service struct {
	logger  *zap.Logger
	store   Store
	events  *monitor.Events
	metrics *monitor.Metrics
	now     func() time.Time
}

// NewService creates a lifecycle service. events and metrics may be nil.
func NewService(store Store, events *monitor.Events, metrics *monitor.Metrics, logger *zap.Logger) *Service {
	return &Service{
		logger:  logger.Named("alert"),
		store:   store,
		events:  events,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new active instance for rule. Severity is copied from the
// rule's priority at this moment.
func (s *Service) Create(ctx context.Context, rule *model.Rule, trigger *model.Snapshot, at time.Time) (*model.AlertInstance, error) {
	instance := &model.AlertInstance{
		ID:            uuid.New().String(),
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		TenantID:      rule.TenantID,
		TriggeredAt:   at.UTC(),
		Severity:      rule.Priority,
		Status:        model.AlertStatusActive,
		TriggerData:   trigger,
		ActionResults: []model.ActionResult{},
	}
	if err := s.store.CreateInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to create alert instance: %w", err)
	}

	s.logger.Info("Alert created",
		zap.String("tenant_id", instance.TenantID),
		zap.String("rule_id", instance.RuleID),
		zap.String("instance_id", instance.ID),
		zap.String("severity", string(instance.Severity)))
	if s.metrics != nil {
		s.metrics.AlertsCreated.WithLabelValues(string(instance.Severity)).Inc()
	}
	s.emit(ctx, monitor.NewEvent(monitor.EventAlertCreated, instance))
	return instance, nil
}

// Acknowledge moves an active instance to acknowledged
func (s *Service) Acknowledge(ctx context.Context, tenantID, id, actor, note string) (*model.AlertInstance, error) {
	return s.transition(ctx, tenantID, id, model.AlertStatusAcknowledged, actor, note)
}

// Resolve closes an active or acknowledged instance
func (s *Service) Resolve(ctx context.Context, tenantID, id, actor, note string) (*model.AlertInstance, error) {
	return s.transition(ctx, tenantID, id, model.AlertStatusResolved, actor, note)
}

// Suppress hides an active instance that should not reach humans
func (s *Service) Suppress(ctx context.Context, tenantID, id, actor, note string) (*model.AlertInstance, error) {
	return s.transition(ctx, tenantID, id, model.AlertStatusSuppressed, actor, note)
}

// Get returns one instance
func (s *Service) Get(ctx context.Context, tenantID, id string) (*model.AlertInstance, error) {
	return s.store.GetInstance(ctx, tenantID, id)
}

// List returns a page of instances, newest first, and the total matching
func (s *Service) List(ctx context.Context, tenantID string, filter storage.InstanceFilter, offset, limit int) ([]*model.AlertInstance, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	instances, err := s.store.ListInstances(ctx, tenantID, filter, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountInstances(ctx, tenantID, filter)
	if err != nil {
		return nil, 0, err
	}
	return instances, total, nil
}

func (s *Service) transition(ctx context.Context, tenantID, id string, to model.AlertStatus, actor, note string) (*model.AlertInstance, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, ErrActorRequired
	}

	instance, err := s.store.GetInstance(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	from := instance.Status
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	at := s.now()
	instance.Status = to
	switch to {
	case model.AlertStatusAcknowledged:
		instance.AcknowledgedAt = &at
		instance.AcknowledgedBy = actor
		instance.AcknowledgmentNote = note
	case model.AlertStatusResolved:
		instance.ResolvedAt = &at
		instance.ResolvedBy = actor
		instance.ResolutionNote = note
	case model.AlertStatusSuppressed:
		instance.SuppressedAt = &at
		instance.SuppressedBy = actor
		instance.SuppressionNote = note
	}

	if err := s.store.UpdateInstanceStatus(ctx, instance, from); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: %s changed status concurrently", ErrInvalidTransition, id)
		}
		return nil, err
	}

	s.logger.Info("Alert status changed",
		zap.String("tenant_id", tenantID),
		zap.String("instance_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))
	if s.metrics != nil {
		s.metrics.AlertTransitions.WithLabelValues(string(to)).Inc()
	}

	event := monitor.NewEvent(monitor.EventForStatus(to), instance)
	event.Actor = actor
	event.Note = note
	s.emit(ctx, event)
	return instance, nil
}

func (s *Service) emit(ctx context.Context, event *monitor.Event) {
	if s.events != nil {
		s.events.Emit(ctx, event)
	}
}
