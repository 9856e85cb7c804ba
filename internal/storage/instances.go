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

// InstanceFilter narrows ListInstances and CountInstances
type InstanceFilter struct {
	Status model.AlertStatus
	RuleID string
}

// InstanceStore defines the alert instance persistence
type InstanceStore interface {
	// CreateInstance stores a new alert instance
	CreateInstance(ctx context.Context, instance *model.AlertInstance) error

	// GetInstance retrieves an instance owned by tenantID
	GetInstance(ctx context.Context, tenantID, id string) (*model.AlertInstance, error)

	// ListInstances retrieves a tenant's instances, newest first
	ListInstances(ctx context.Context, tenantID string, filter InstanceFilter, offset, limit int) ([]*model.AlertInstance, error)

	// CountInstances returns the number of instances matching the filter
	CountInstances(ctx context.Context, tenantID string, filter InstanceFilter) (int, error)

	// UpdateInstanceStatus writes the status and transition metadata of
	// instance, provided its stored status is still from
	UpdateInstanceStatus(ctx context.Context, instance *model.AlertInstance, from model.AlertStatus) error

	// AppendActionResult appends a result and returns its index
	AppendActionResult(ctx context.Context, instanceID string, result model.ActionResult) (int, error)

	// UpdateActionResult replaces the result at index
	UpdateActionResult(ctx context.Context, instanceID string, index int, result model.ActionResult) error

	// DeleteInstancesBefore deletes resolved and suppressed instances triggered before the cutoff
	DeleteInstancesBefore(ctx context.Context, before time.Time) (int64, error)
}

const instanceColumns = `id, rule_id, rule_name, tenant_id, triggered_at, severity, status,
	trigger_data, action_results, acknowledged_at, acknowledged_by, acknowledgment_note,
	resolved_at, resolved_by, resolution_note, suppressed_at, suppressed_by, suppression_note`

// CreateInstance implements InstanceStore.CreateInstance
func (s *SQLiteStore) CreateInstance(ctx context.Context, instance *model.AlertInstance) error {
	var triggerData sql.NullString
	if instance.TriggerData != nil {
		data, err := json.Marshal(instance.TriggerData)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger data: %w", err)
		}
		triggerData = sql.NullString{String: string(data), Valid: true}
	}
	results := instance.ActionResults
	if results == nil {
		results = []model.ActionResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal action results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_instances (
			id, rule_id, rule_name, tenant_id, triggered_at, severity, status,
			trigger_data, action_results
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.ID,
		instance.RuleID,
		instance.RuleName,
		instance.TenantID,
		instance.TriggeredAt.UTC(),
		instance.Severity,
		instance.Status,
		triggerData,
		string(resultsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store alert instance: %w", err)
	}
	return nil
}

// GetInstance implements InstanceStore.GetInstance
func (s *SQLiteStore) GetInstance(ctx context.Context, tenantID, id string) (*model.AlertInstance, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM alert_instances WHERE id = ? AND tenant_id = ?", id, tenantID)
	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return instance, nil
}

// ListInstances implements InstanceStore.ListInstances
func (s *SQLiteStore) ListInstances(ctx context.Context, tenantID string, filter InstanceFilter, offset, limit int) ([]*model.AlertInstance, error) {
	where, args := instanceWhere(tenantID, filter)
	query := "SELECT " + instanceColumns + " FROM alert_instances" + where +
		" ORDER BY triggered_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert instances: %w", err)
	}
	defer rows.Close()

	var instances []*model.AlertInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return instances, nil
}

// CountInstances implements InstanceStore.CountInstances
func (s *SQLiteStore) CountInstances(ctx context.Context, tenantID string, filter InstanceFilter) (int, error) {
	where, args := instanceWhere(tenantID, filter)

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_instances"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count alert instances: %w", err)
	}
	return count, nil
}

// UpdateInstanceStatus implements InstanceStore.UpdateInstanceStatus
func (s *SQLiteStore) UpdateInstanceStatus(ctx context.Context, instance *model.AlertInstance, from model.AlertStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_instances SET
			status = ?,
			acknowledged_at = ?,
			acknowledged_by = ?,
			acknowledgment_note = ?,
			resolved_at = ?,
			resolved_by = ?,
			resolution_note = ?,
			suppressed_at = ?,
			suppressed_by = ?,
			suppression_note = ?
		WHERE id = ? AND tenant_id = ? AND status = ?`,
		instance.Status,
		nullTime(instance.AcknowledgedAt),
		nullString(instance.AcknowledgedBy),
		nullString(instance.AcknowledgmentNote),
		nullTime(instance.ResolvedAt),
		nullString(instance.ResolvedBy),
		nullString(instance.ResolutionNote),
		nullTime(instance.SuppressedAt),
		nullString(instance.SuppressedBy),
		nullString(instance.SuppressionNote),
		instance.ID,
		instance.TenantID,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert instance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// AppendActionResult implements InstanceStore.AppendActionResult
func (s *SQLiteStore) AppendActionResult(ctx context.Context, instanceID string, result model.ActionResult) (int, error) {
	index := -1
	err := s.modifyResults(ctx, instanceID, func(results []model.ActionResult) ([]model.ActionResult, error) {
		index = len(results)
		return append(results, result), nil
	})
	return index, err
}

// UpdateActionResult implements InstanceStore.UpdateActionResult
func (s *SQLiteStore) UpdateActionResult(ctx context.Context, instanceID string, index int, result model.ActionResult) error {
	return s.modifyResults(ctx, instanceID, func(results []model.ActionResult) ([]model.ActionResult, error) {
		if index < 0 || index >= len(results) {
			return nil, ErrResultIndex
		}
		results[index] = result
		return results, nil
	})
}

func (s *SQLiteStore) modifyResults(ctx context.Context, instanceID string, fn func([]model.ActionResult) ([]model.ActionResult, error)) error {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, "SELECT action_results FROM alert_instances WHERE id = ?", instanceID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read action results: %w", err)
	}

	var results []model.ActionResult
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &results); err != nil {
			return fmt.Errorf("failed to unmarshal action results: %w", err)
		}
	}

	results, err = fn(results)
	if err != nil {
		return err
	}

	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal action results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE alert_instances SET action_results = ? WHERE id = ?", string(data), instanceID); err != nil {
		return fmt.Errorf("failed to write action results: %w", err)
	}
	return tx.Commit()
}

// DeleteInstancesBefore implements InstanceStore.DeleteInstancesBefore
func (s *SQLiteStore) DeleteInstancesBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM alert_instances WHERE triggered_at < ? AND status IN (?, ?)",
		before.UTC(), model.AlertStatusResolved, model.AlertStatusSuppressed)
	if err != nil {
		return 0, fmt.Errorf("failed to delete alert instances: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old alert instances",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

func instanceWhere(tenantID string, filter InstanceFilter) (string, []interface{}) {
	where := " WHERE tenant_id = ?"
	args := []interface{}{tenantID}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.RuleID != "" {
		where += " AND rule_id = ?"
		args = append(args, filter.RuleID)
	}
	return where, args
}

func scanInstance(row rowScanner) (*model.AlertInstance, error) {
	var instance model.AlertInstance
	var ruleName, triggerData, ackBy, ackNote, resBy, resNote, supBy, supNote sql.NullString
	var results string
	var ackAt, resAt, supAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&instance.RuleID,
		&ruleName,
		&instance.TenantID,
		&instance.TriggeredAt,
		&instance.Severity,
		&instance.Status,
		&triggerData,
		&results,
		&ackAt,
		&ackBy,
		&ackNote,
		&resAt,
		&resBy,
		&resNote,
		&supAt,
		&supBy,
		&supNote,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert instance: %w", err)
	}

	instance.RuleName = ruleName.String
	if triggerData.Valid && triggerData.String != "" {
		instance.TriggerData = &model.Snapshot{}
		if err := json.Unmarshal([]byte(triggerData.String), instance.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(results), &instance.ActionResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action results: %w", err)
	}
	if ackAt.Valid {
		instance.AcknowledgedAt = &ackAt.Time
	}
	if resAt.Valid {
		instance.ResolvedAt = &resAt.Time
	}
	if supAt.Valid {
		instance.SuppressedAt = &supAt.Time
	}
	instance.AcknowledgedBy = ackBy.String
	instance.AcknowledgmentNote = ackNote.String
	instance.ResolvedBy = resBy.String
	instance.ResolutionNote = resNote.String
	instance.SuppressedBy = supBy.String
	instance.SuppressionNote = supNote.String

	return &instance, nil
}
