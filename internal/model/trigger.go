package model

import (
	"fmt"
	"math"
	"time"
)

// Operator is a threshold comparison operator
type Operator string

const (
	OpGreater      Operator = "gt"
	OpLess         Operator = "lt"
	OpEqual        Operator = "eq"
	OpGreaterEqual Operator = "gte"
	OpLessEqual    Operator = "lte"
)

// Compare evaluates value <op> threshold
func (o Operator) Compare(value, threshold float64) (bool, error) {
	switch o {
	case OpGreater:
		return value > threshold, nil
	case OpLess:
		return value < threshold, nil
	case OpEqual:
		return value == threshold, nil
	case OpGreaterEqual:
		return value >= threshold, nil
	case OpLessEqual:
		return value <= threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", string(o))
	}
}

// Matches reports whether the operator watches the given direction
func (o Operator) Matches(d Direction) bool {
	switch d {
	case DirectionHigh:
		return o == OpGreater || o == OpGreaterEqual
	case DirectionLow:
		return o == OpLess || o == OpLessEqual
	}
	return false
}

// Direction says on which side of a threshold a reading fell
type Direction string

const (
	DirectionHigh Direction = "high"
	DirectionLow  Direction = "low"
)

// DirectionFor derives the alert direction. Equality falls back to the
// side the operator watches.
func DirectionFor(op Operator, value, threshold float64) Direction {
	switch {
	case value > threshold:
		return DirectionHigh
	case value < threshold:
		return DirectionLow
	case op == OpLess || op == OpLessEqual:
		return DirectionLow
	default:
		return DirectionHigh
	}
}

// TriggerRule is a threshold rule evaluated against sensor readings
type TriggerRule struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Field        string     `json:"field"`
	Operator     Operator   `json:"operator"`
	Threshold    float64    `json:"threshold"`
	Engine       EngineKind `json:"engine"`
	WorkflowPath string     `json:"workflowPath,omitempty"`
	Enabled      bool       `json:"enabled"`
}

// Reading is one sensor sample keyed by field name
type Reading map[string]float64

// Alert is emitted when a rule fires
type Alert struct {
	ID           string    `json:"id,omitempty"`
	LocationCode string    `json:"locationCode"`
	LocationName string    `json:"locationName"`
	Field        string    `json:"field"`
	Value        float64   `json:"value"`
	Threshold    float64   `json:"threshold"`
	Direction    Direction `json:"direction"`
	ModelID      int64     `json:"modelId,omitempty"`
	RuleID       int64     `json:"ruleId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Severity is the urgency attached to an alert sent to a workflow
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// criticalMargin is how far past the threshold a reading must be to be critical
const criticalMargin = 5.0

// Severity grades the alert by its distance from the threshold
func (a Alert) Severity() Severity {
	if math.Abs(a.Value-a.Threshold) >= criticalMargin {
		return SeverityCritical
	}
	return SeverityWarning
}
