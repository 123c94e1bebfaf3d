package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ppiankov/twinsight/internal/model"
)

const ruleColumns = `id, COALESCE(name, ''), condition_field, condition_operator,
	condition_value::float8, COALESCE(analysis_engine, ''), COALESCE(n8n_webhook_path, ''), enabled`

func scanRule(row pgx.CollectableRow) (model.TriggerRule, error) {
	var (
		r        model.TriggerRule
		operator string
		engine   string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Field, &operator, &r.Threshold, &engine, &r.WorkflowPath, &r.Enabled); err != nil {
		return r, err
	}
	r.Operator = model.Operator(operator)

	kind, err := model.ParseEngineKind(engine)
	if err != nil {
		// Unknown engines run on the built-in path
		kind = model.EngineDirect
	}
	r.Engine = kind
	return r, nil
}

// ListEnabledRules returns all enabled trigger rules ordered by id
func (s *Store) ListEnabledRules(ctx context.Context) ([]model.TriggerRule, error) {
	rows, err := s.db.Query(ctx, `SELECT `+ruleColumns+` FROM iot_triggers WHERE enabled = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("failed to scan triggers: %w", err)
	}
	return rules, nil
}

// GetRule returns a rule by id, or nil when it does not exist
func (s *Store) GetRule(ctx context.Context, id int64) (*model.TriggerRule, error) {
	rows, err := s.db.Query(ctx, `SELECT `+ruleColumns+` FROM iot_triggers WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger: %w", err)
	}
	rule, err := pgx.CollectOneRow(rows, scanRule)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}
	return &rule, nil
}

// EnabledRulesForField returns enabled rules watching field, ordered by id
func (s *Store) EnabledRulesForField(ctx context.Context, field string) ([]model.TriggerRule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+ruleColumns+` FROM iot_triggers WHERE enabled = true AND condition_field = $1 ORDER BY id`,
		field)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("failed to scan triggers: %w", err)
	}
	return rules, nil
}
