// Package trigger evaluates threshold rules against sensor readings and
// dispatches fired alerts to the analysis pipeline.
package trigger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/metrics"
	"github.com/ppiankov/twinsight/internal/model"
)

// RuleSource lists the rules currently enabled
type RuleSource interface {
	ListEnabledRules(ctx context.Context) ([]model.TriggerRule, error)
}

// Dispatcher hands a fired alert to the analysis pipeline
type Dispatcher interface {
	Dispatch(ctx context.Context, alert model.Alert) error
}

// DispatchFunc adapts a function to Dispatcher
type DispatchFunc func(ctx context.Context, alert model.Alert) error

// Dispatch calls f
func (f DispatchFunc) Dispatch(ctx context.Context, alert model.Alert) error {
	return f(ctx, alert)
}

// LocationNamer looks up the display name of a location
type LocationNamer interface {
	SpaceName(ctx context.Context, code string) (string, error)
}

// ReadingContext says where and when a reading was taken
type ReadingContext struct {
	LocationCode string    `json:"locationCode"`
	ModelID      int64     `json:"modelId,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// Submission is a reading as posted by a sensor gateway or read from a
// batch file
type Submission struct {
	ReadingContext
	Values model.Reading `json:"values"`
}

// RuleFailure records a rule that could not be evaluated or dispatched
type RuleFailure struct {
	RuleID   int64  `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Error    string `json:"error"`
}

// EvaluationReport summarizes one evaluation
type EvaluationReport struct {
	Evaluated int           `json:"evaluated"`
	Fired     int           `json:"fired"`
	Alerts    []model.Alert `json:"alerts"`
	Failures  []RuleFailure `json:"failures"`
}

// Evaluator checks readings against enabled rules
type Evaluator struct {
	rules    RuleSource
	dispatch Dispatcher
	namer    LocationNamer
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewEvaluator creates an evaluator. namer may be nil.
func NewEvaluator(rules RuleSource, dispatch Dispatcher, namer LocationNamer, m *metrics.Metrics, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		rules:    rules,
		dispatch: dispatch,
		namer:    namer,
		metrics:  m,
		logger:   logger,
	}
}

// Evaluate re-reads the enabled rules and checks every rule whose field is
// present in the reading. Each rule runs in its own failure boundary: an
// error or panic is logged and recorded, and the next rule still runs.
// Only a failure to list rules is returned as an error.
func (e *Evaluator) Evaluate(ctx context.Context, reading model.Reading, rc ReadingContext) (*EvaluationReport, error) {
	rules, err := e.rules.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	report := &EvaluationReport{
		Alerts:   []model.Alert{},
		Failures: []RuleFailure{},
	}
	if len(rules) == 0 {
		return report, nil
	}

	if rc.Timestamp.IsZero() {
		rc.Timestamp = time.Now().UTC()
	}
	name := e.locationName(ctx, rc.LocationCode)

	for _, rule := range rules {
		value, ok := reading[rule.Field]
		if !ok {
			continue
		}
		report.Evaluated++

		alert, fired, err := e.evaluateRule(ctx, rule, value, rc, name)
		e.metrics.RecordRule(rule.Field, fired, err)
		if err != nil {
			e.logger.Error("rule evaluation failed",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
			report.Failures = append(report.Failures, RuleFailure{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Error:    err.Error(),
			})
		}
		if fired {
			report.Fired++
			report.Alerts = append(report.Alerts, alert)
		}
	}

	e.logger.Info("readings evaluated",
		zap.String("location", rc.LocationCode),
		zap.Int("rules", len(rules)),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("fired", report.Fired),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

// evaluateRule compares and dispatches one rule. fired is true once the
// condition matched, even when the dispatch later failed.
func (e *Evaluator) evaluateRule(ctx context.Context, rule model.TriggerRule, value float64, rc ReadingContext, name string) (alert model.Alert, fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	match, err := rule.Operator.Compare(value, rule.Threshold)
	if err != nil || !match {
		return alert, false, err
	}

	alert = model.Alert{
		LocationCode: rc.LocationCode,
		LocationName: name,
		Field:        rule.Field,
		Value:        value,
		Threshold:    rule.Threshold,
		Direction:    model.DirectionFor(rule.Operator, value, rule.Threshold),
		ModelID:      rc.ModelID,
		RuleID:       rule.ID,
		Timestamp:    rc.Timestamp,
	}

	e.logger.Info("rule fired",
		zap.Int64("rule_id", rule.ID),
		zap.String("rule", rule.Name),
		zap.String("field", rule.Field),
		zap.String("operator", string(rule.Operator)),
		zap.Float64("threshold", rule.Threshold),
		zap.Float64("value", value),
	)

	if e.dispatch != nil {
		if err := e.dispatch.Dispatch(ctx, alert); err != nil {
			return alert, true, fmt.Errorf("dispatch: %w", err)
		}
	}
	return alert, true, nil
}

// locationName falls back to the code when the catalog has no name
func (e *Evaluator) locationName(ctx context.Context, code string) string {
	if e.namer == nil || code == "" {
		return code
	}
	name, err := e.namer.SpaceName(ctx, code)
	if err != nil {
		e.logger.Warn("location name lookup failed", zap.String("location", code), zap.Error(err))
		return code
	}
	if name == "" {
		return code
	}
	return name
}
