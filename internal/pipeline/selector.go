package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/settings"
)

// RuleLookup reads trigger rules
type RuleLookup interface {
	GetRule(ctx context.Context, id int64) (*model.TriggerRule, error)
	EnabledRulesForField(ctx context.Context, field string) ([]model.TriggerRule, error)
}

// SettingsReader exposes runtime settings
type SettingsReader interface {
	Get(ctx context.Context, key, def string) string
}

// SelectRequest carries what the selector may use to pick an engine
type SelectRequest struct {
	RuleID       int64
	LocationCode string
	Direction    model.Direction
}

// Selector decides which engine handles an analysis
type Selector struct {
	rules         RuleLookup
	settings      SettingsReader
	field         string
	defaultEngine string
	logger        *zap.Logger
}

// NewSelector creates a selector
func NewSelector(rules RuleLookup, s SettingsReader, cfg model.AnalysisConfig, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	field := cfg.Field
	if field == "" {
		field = "temperature"
	}
	return &Selector{
		rules:         rules,
		settings:      s,
		field:         field,
		defaultEngine: cfg.DefaultEngine,
		logger:        logger,
	}
}

// Select picks the engine in this order:
//  1. the engine of an explicitly named rule
//  2. the first enabled rule on the configured field whose operator
//     watches the alert direction
//  3. the process-wide default
//
// A named rule that no longer exists is logged and falls through.
func (s *Selector) Select(ctx context.Context, req SelectRequest) (model.Engine, error) {
	if s.rules != nil {
		if req.RuleID != 0 {
			rule, err := s.rules.GetRule(ctx, req.RuleID)
			if err != nil {
				return model.Engine{}, err
			}
			if rule != nil {
				return engineOf(*rule), nil
			}
			s.logger.Warn("rule not found, selecting engine by location",
				zap.Int64("rule_id", req.RuleID),
				zap.String("location", req.LocationCode),
			)
		}

		if req.LocationCode != "" && req.Direction != "" {
			rules, err := s.rules.EnabledRulesForField(ctx, s.field)
			if err != nil {
				return model.Engine{}, err
			}
			for _, r := range rules {
				if r.Operator.Matches(req.Direction) {
					return engineOf(r), nil
				}
			}
		}
	}

	return s.Default(ctx), nil
}

// Default returns the process-wide engine
func (s *Selector) Default(ctx context.Context) model.Engine {
	name := s.defaultEngine
	if s.settings != nil {
		name = s.settings.Get(ctx, settings.KeyAnalysisEngine, name)
	}
	kind, err := model.ParseEngineKind(name)
	if err != nil {
		s.logger.Warn("invalid default engine, using direct", zap.String("engine", name))
		kind = model.EngineDirect
	}
	return model.Engine{Kind: kind}
}

func engineOf(r model.TriggerRule) model.Engine {
	e := model.Engine{Kind: r.Engine}
	if e.Kind == "" {
		e.Kind = model.EngineDirect
	}
	if e.Kind == model.EngineWorkflow {
		e.WorkflowPath = r.WorkflowPath
	}
	return e
}
