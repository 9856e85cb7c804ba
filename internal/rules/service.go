package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/evaluator"
	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/storage"
)

// Service manages tenant rules. Every create and update goes through the
// same validation, so the evaluator only ever sees well-formed rules.
type Service struct {
	logger  *zap.Logger
	store   storage.RuleStore
	custom  *evaluator.CustomRegistry
	cascade bool
	now     func() time.Time
}

// NewService creates a rule service. cascade controls whether deleting a
// rule also deletes its alert instances.
func NewService(store storage.RuleStore, custom *evaluator.CustomRegistry, cascade bool, logger *zap.Logger) *Service {
	return &Service{
		logger:  logger.Named("rules"),
		store:   store,
		custom:  custom,
		cascade: cascade,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewDraft returns a rule carrying the defaults that a decoded request
// overrides, such as enabled=true
func NewDraft() *model.Rule {
	return &model.Rule{Enabled: true}
}

// Create validates and stores a new rule for tenantID
func (s *Service) Create(ctx context.Context, tenantID string, rule *model.Rule) (*model.Rule, error) {
	if err := s.prepare(tenantID, rule); err != nil {
		return nil, err
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("Rule created",
		zap.String("tenant_id", tenantID),
		zap.String("rule_id", rule.ID),
		zap.String("name", rule.Name))
	return rule, nil
}

// Update replaces the editable fields of an existing rule. The trigger
// bookkeeping is kept from the stored rule.
func (s *Service) Update(ctx context.Context, tenantID, id string, rule *model.Rule) (*model.Rule, error) {
	existing, err := s.store.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.LastTriggeredAt = existing.LastTriggeredAt
	rule.TriggerCount = existing.TriggerCount
	s.applyDefaults(tenantID, rule)
	if err := s.Validate(rule); err != nil {
		return nil, err
	}
	rule.UpdatedAt = s.now()

	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("Rule updated",
		zap.String("tenant_id", tenantID),
		zap.String("rule_id", rule.ID))
	return rule, nil
}

// SetEnabled turns a rule on or off
func (s *Service) SetEnabled(ctx context.Context, tenantID, id string, enabled bool) (*model.Rule, error) {
	rule, err := s.store.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if rule.Enabled == enabled {
		return rule, nil
	}

	rule.Enabled = enabled
	rule.UpdatedAt = s.now()
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("Rule toggled",
		zap.String("tenant_id", tenantID),
		zap.String("rule_id", id),
		zap.Bool("enabled", enabled))
	return rule, nil
}

// Get returns one rule
func (s *Service) Get(ctx context.Context, tenantID, id string) (*model.Rule, error) {
	return s.store.GetRule(ctx, tenantID, id)
}

// List returns the tenant's rules matching filter
func (s *Service) List(ctx context.Context, tenantID string, filter storage.RuleFilter) ([]*model.Rule, error) {
	return s.store.ListRules(ctx, tenantID, filter)
}

// Delete removes a rule
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	if err := s.store.DeleteRule(ctx, tenantID, id, s.cascade); err != nil {
		return err
	}
	s.logger.Info("Rule deleted",
		zap.String("tenant_id", tenantID),
		zap.String("rule_id", id),
		zap.Bool("cascade", s.cascade))
	return nil
}

// Validate runs the model checks plus the ones that need the engine, such
// as whether a custom evaluator is registered
func (s *Service) Validate(rule *model.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	conditionIDs := make(map[string]bool, len(rule.Conditions))
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		if conditionIDs[cond.ID] {
			return &model.ValidationError{
				Field:   fmt.Sprintf("conditions[%d].id", i),
				Message: fmt.Sprintf("duplicate condition id %q", cond.ID),
			}
		}
		conditionIDs[cond.ID] = true

		if cond.Type == model.ConditionCustom && s.custom != nil {
			if err := s.custom.Check(cond); err != nil {
				return &model.ValidationError{
					Field:   fmt.Sprintf("conditions[%d]", i),
					Message: err.Error(),
				}
			}
		}
	}

	actionIDs := make(map[string]bool, len(rule.Actions))
	for i := range rule.Actions {
		if actionIDs[rule.Actions[i].ID] {
			return &model.ValidationError{
				Field:   fmt.Sprintf("actions[%d].id", i),
				Message: fmt.Sprintf("duplicate action id %q", rule.Actions[i].ID),
			}
		}
		actionIDs[rule.Actions[i].ID] = true
	}
	return nil
}

// Prepare validates rule as if it were created for tenantID, without
// storing it. Used for ad-hoc rule tests.
func (s *Service) Prepare(tenantID string, rule *model.Rule) error {
	return s.prepare(tenantID, rule)
}

// prepare fills in server-owned fields of a new rule and validates it
func (s *Service) prepare(tenantID string, rule *model.Rule) error {
	rule.ID = uuid.New().String()
	rule.LastTriggeredAt = nil
	rule.TriggerCount = 0
	s.applyDefaults(tenantID, rule)
	if err := s.Validate(rule); err != nil {
		return err
	}
	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

func (s *Service) applyDefaults(tenantID string, rule *model.Rule) {
	rule.TenantID = tenantID
	if rule.Priority == "" {
		rule.Priority = model.PriorityMedium
	}
	if rule.ConditionLogic == "" {
		rule.ConditionLogic = model.LogicAnd
	}
	for i := range rule.Conditions {
		if rule.Conditions[i].ID == "" {
			rule.Conditions[i].ID = fmt.Sprintf("c%d", i+1)
		}
	}
	for i := range rule.Actions {
		if rule.Actions[i].ID == "" {
			rule.Actions[i].ID = fmt.Sprintf("a%d", i+1)
		}
	}
}
