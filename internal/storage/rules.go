package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// RuleFilter narrows ListRules
type RuleFilter struct {
	Enabled *bool
	Tag     string
}

// RuleStore defines the rule persistence the engine and API need
type RuleStore interface {
	// CreateRule stores a new rule
	CreateRule(ctx context.Context, rule *model.Rule) error

	// UpdateRule overwrites the user-editable fields of a rule
	UpdateRule(ctx context.Context, rule *model.Rule) error

	// GetRule retrieves a rule owned by tenantID
	GetRule(ctx context.Context, tenantID, id string) (*model.Rule, error)

	// ListRules lists a tenant's rules
	ListRules(ctx context.Context, tenantID string, filter RuleFilter) ([]*model.Rule, error)

	// ListEnabledRules lists a tenant's enabled rules
	ListEnabledRules(ctx context.Context, tenantID string) ([]*model.Rule, error)

	// ListTenantsWithEnabledRules returns the distinct tenants owning an enabled rule
	ListTenantsWithEnabledRules(ctx context.Context) ([]string, error)

	// DeleteRule removes a rule, and its instances when cascade is set
	DeleteRule(ctx context.Context, tenantID, id string, cascade bool) error

	// MarkTriggered sets last_triggered_at and increments trigger_count. When
	// expectedCount is non-nil the update only applies if trigger_count still
	// equals it; the returned bool reports whether the row was updated.
	MarkTriggered(ctx context.Context, id string, at time.Time, expectedCount *int64) (bool, error)

	// ReleaseTrigger undoes a MarkTriggered claim that produced no instance.
	// It restores last_triggered_at to previous and decrements trigger_count,
	// but only while trigger_count still equals claimedCount.
	ReleaseTrigger(ctx context.Context, id string, previous *time.Time, claimedCount int64) (bool, error)
}

const ruleColumns = `id, tenant_id, name, description, enabled, priority, conditions,
	condition_logic, actions, cooldown_period, max_occurrences, schedule, tags,
	last_triggered_at, trigger_count, created_at, updated_at`

// CreateRule implements RuleStore.CreateRule
func (s *SQLiteStore) CreateRule(ctx context.Context, rule *model.Rule) error {
	cols, err := encodeRule(rule)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.TenantID,
		rule.Name,
		rule.Description,
		rule.Enabled,
		rule.Priority,
		cols.conditions,
		rule.Logic(),
		cols.actions,
		nullInt(rule.CooldownPeriod),
		nullInt(rule.MaxOccurrences),
		cols.schedule,
		cols.tags,
		nullTime(rule.LastTriggeredAt),
		rule.TriggerCount,
		rule.CreatedAt.UTC(),
		rule.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store rule: %w", err)
	}
	return nil
}

// UpdateRule implements RuleStore.UpdateRule. last_triggered_at and
// trigger_count are left untouched.
func (s *SQLiteStore) UpdateRule(ctx context.Context, rule *model.Rule) error {
	cols, err := encodeRule(rule)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET
			name = ?,
			description = ?,
			enabled = ?,
			priority = ?,
			conditions = ?,
			condition_logic = ?,
			actions = ?,
			cooldown_period = ?,
			max_occurrences = ?,
			schedule = ?,
			tags = ?,
			updated_at = ?
		WHERE id = ? AND tenant_id = ?`,
		rule.Name,
		rule.Description,
		rule.Enabled,
		rule.Priority,
		cols.conditions,
		rule.Logic(),
		cols.actions,
		nullInt(rule.CooldownPeriod),
		nullInt(rule.MaxOccurrences),
		cols.schedule,
		cols.tags,
		rule.UpdatedAt.UTC(),
		rule.ID,
		rule.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return expectOne(result)
}

// GetRule implements RuleStore.GetRule
func (s *SQLiteStore) GetRule(ctx context.Context, tenantID, id string) (*model.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE id = ? AND tenant_id = ?", id, tenantID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rule, nil
}

// ListRules implements RuleStore.ListRules
func (s *SQLiteStore) ListRules(ctx context.Context, tenantID string, filter RuleFilter) ([]*model.Rule, error) {
	query := "SELECT " + ruleColumns + " FROM rules WHERE tenant_id = ?"
	args := []interface{}{tenantID}
	if filter.Enabled != nil {
		query += " AND enabled = ?"
		args = append(args, *filter.Enabled)
	}
	query += " ORDER BY created_at, id"

	rules, err := s.queryRules(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if filter.Tag == "" {
		return rules, nil
	}

	tagged := rules[:0]
	for _, r := range rules {
		if r.HasTag(filter.Tag) {
			tagged = append(tagged, r)
		}
	}
	return tagged, nil
}

// ListEnabledRules implements RuleStore.ListEnabledRules
func (s *SQLiteStore) ListEnabledRules(ctx context.Context, tenantID string) ([]*model.Rule, error) {
	enabled := true
	return s.ListRules(ctx, tenantID, RuleFilter{Enabled: &enabled})
}

// ListTenantsWithEnabledRules implements RuleStore.ListTenantsWithEnabledRules
func (s *SQLiteStore) ListTenantsWithEnabledRules(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT tenant_id FROM rules WHERE enabled = 1 ORDER BY tenant_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tenants, nil
}

// DeleteRule implements RuleStore.DeleteRule
func (s *SQLiteStore) DeleteRule(ctx context.Context, tenantID, id string, cascade bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM rules WHERE id = ? AND tenant_id = ?", id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if err := expectOne(result); err != nil {
		return err
	}

	var deleted int64
	if cascade {
		result, err := tx.ExecContext(ctx,
			"DELETE FROM alert_instances WHERE rule_id = ? AND tenant_id = ?", id, tenantID)
		if err != nil {
			return fmt.Errorf("failed to delete alert instances: %w", err)
		}
		deleted, _ = result.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule deletion: %w", err)
	}

	s.logger.Info("Deleted rule",
		zap.String("tenant_id", tenantID),
		zap.String("rule_id", id),
		zap.Bool("cascade", cascade),
		zap.Int64("instances_deleted", deleted))
	return nil
}

// MarkTriggered implements RuleStore.MarkTriggered
func (s *SQLiteStore) MarkTriggered(ctx context.Context, id string, at time.Time, expectedCount *int64) (bool, error) {
	query := "UPDATE rules SET last_triggered_at = ?, trigger_count = trigger_count + 1 WHERE id = ?"
	args := []interface{}{at.UTC(), id}
	if expectedCount != nil {
		query += " AND trigger_count = ?"
		args = append(args, *expectedCount)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark rule triggered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// ReleaseTrigger implements RuleStore.ReleaseTrigger
func (s *SQLiteStore) ReleaseTrigger(ctx context.Context, id string, previous *time.Time, claimedCount int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE rules SET last_triggered_at = ?, trigger_count = trigger_count - 1 WHERE id = ? AND trigger_count = ?",
		nullTime(previous), id, claimedCount)
	if err != nil {
		return false, fmt.Errorf("failed to release trigger: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...interface{}) ([]*model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return rules, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type encodedRule struct {
	conditions string
	actions    string
	schedule   sql.NullString
	tags       sql.NullString
}

func encodeRule(rule *model.Rule) (*encodedRule, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actions: %w", err)
	}

	enc := &encodedRule{conditions: string(conditions), actions: string(actions)}
	if rule.Schedule != nil {
		schedule, err := json.Marshal(rule.Schedule)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schedule: %w", err)
		}
		enc.schedule = sql.NullString{String: string(schedule), Valid: true}
	}
	if len(rule.Tags) > 0 {
		tags, err := json.Marshal(rule.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
		enc.tags = sql.NullString{String: string(tags), Valid: true}
	}
	return enc, nil
}

func scanRule(row rowScanner) (*model.Rule, error) {
	var rule model.Rule
	var description, schedule, tags sql.NullString
	var conditions, actions string
	var cooldown, maxOccurrences sql.NullInt64
	var lastTriggered sql.NullTime

	err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&rule.Name,
		&description,
		&rule.Enabled,
		&rule.Priority,
		&conditions,
		&rule.ConditionLogic,
		&actions,
		&cooldown,
		&maxOccurrences,
		&schedule,
		&tags,
		&lastTriggered,
		&rule.TriggerCount,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	if description.Valid {
		rule.Description = description.String
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions of rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions of rule %s: %w", rule.ID, err)
	}
	if cooldown.Valid {
		v := int(cooldown.Int64)
		rule.CooldownPeriod = &v
	}
	if maxOccurrences.Valid {
		v := int(maxOccurrences.Int64)
		rule.MaxOccurrences = &v
	}
	if schedule.Valid && schedule.String != "" {
		rule.Schedule = &model.ScheduleRestriction{}
		if err := json.Unmarshal([]byte(schedule.String), rule.Schedule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule of rule %s: %w", rule.ID, err)
		}
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &rule.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags of rule %s: %w", rule.ID, err)
		}
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggeredAt = &t
	}

	return &rule, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func expectOne(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
