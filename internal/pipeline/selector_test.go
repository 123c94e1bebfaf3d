package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/settings"
)

type fakeRules struct {
	byID     map[int64]model.TriggerRule
	byField  []model.TriggerRule
	err      error
	getCalls int
}

func (f *fakeRules) GetRule(ctx context.Context, id int64) (*model.TriggerRule, error) {
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeRules) EnabledRulesForField(ctx context.Context, field string) ([]model.TriggerRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.TriggerRule
	for _, r := range f.byField {
		if r.Field == field {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestSelector_ExplicitRule(t *testing.T) {
	rules := &fakeRules{byID: map[int64]model.TriggerRule{
		4: {ID: 4, Engine: model.EngineWorkflow, WorkflowPath: "/webhook/x"},
	}}
	s := NewSelector(rules, nil, model.AnalysisConfig{DefaultEngine: "direct"}, nil)

	e, err := s.Select(context.Background(), SelectRequest{RuleID: 4})
	require.NoError(t, err)
	assert.Equal(t, model.Engine{Kind: model.EngineWorkflow, WorkflowPath: "/webhook/x"}, e)
}

func TestSelector_MissingRuleFallsThrough(t *testing.T) {
	rules := &fakeRules{
		byID: map[int64]model.TriggerRule{},
		byField: []model.TriggerRule{
			{ID: 1, Field: "temperature", Operator: model.OpLess, Engine: model.EngineWorkflow, WorkflowPath: "/cold"},
			{ID: 2, Field: "temperature", Operator: model.OpGreaterEqual, Engine: model.EngineWorkflow, WorkflowPath: "/hot"},
		},
	}
	s := NewSelector(rules, nil, model.AnalysisConfig{DefaultEngine: "direct"}, nil)

	e, err := s.Select(context.Background(), SelectRequest{RuleID: 99, LocationCode: "R1", Direction: model.DirectionHigh})
	require.NoError(t, err)
	assert.Equal(t, "/hot", e.WorkflowPath)

	e, err = s.Select(context.Background(), SelectRequest{RuleID: 99})
	require.NoError(t, err)
	assert.Equal(t, model.EngineDirect, e.Kind)
}

func TestSelector_LocationDirection(t *testing.T) {
	rules := &fakeRules{byField: []model.TriggerRule{
		{ID: 1, Field: "humidity", Operator: model.OpGreater, Engine: model.EngineWorkflow},
		{ID: 2, Field: "temperature", Operator: model.OpLessEqual, Engine: model.EngineWorkflow, WorkflowPath: "/cold"},
	}}
	s := NewSelector(rules, nil, model.AnalysisConfig{DefaultEngine: "direct"}, nil)

	e, err := s.Select(context.Background(), SelectRequest{LocationCode: "R1", Direction: model.DirectionLow})
	require.NoError(t, err)
	assert.Equal(t, model.Engine{Kind: model.EngineWorkflow, WorkflowPath: "/cold"}, e)

	e, err = s.Select(context.Background(), SelectRequest{LocationCode: "R1", Direction: model.DirectionHigh})
	require.NoError(t, err)
	assert.Equal(t, model.Engine{Kind: model.EngineDirect}, e)
}

func TestSelector_DefaultFromSettings(t *testing.T) {
	s := NewSelector(&fakeRules{}, mapSettings{settings.KeyAnalysisEngine: "n8n"}, model.AnalysisConfig{DefaultEngine: "direct"}, nil)
	e, err := s.Select(context.Background(), SelectRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.EngineWorkflow, e.Kind)

	s = NewSelector(nil, mapSettings{settings.KeyAnalysisEngine: "bogus"}, model.AnalysisConfig{}, nil)
	e, err = s.Select(context.Background(), SelectRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.EngineDirect, e.Kind)
}

func TestSelector_LookupError(t *testing.T) {
	s := NewSelector(&fakeRules{err: errors.New("db down")}, nil, model.AnalysisConfig{}, nil)
	_, err := s.Select(context.Background(), SelectRequest{RuleID: 1})
	assert.Error(t, err)
}
