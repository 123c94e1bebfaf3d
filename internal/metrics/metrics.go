// Package metrics provides Prometheus metrics for twinsight.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "twinsight"

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	AnalysisTotal    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	CitedSources     prometheus.Histogram
	RulesEvaluated   prometheus.Counter
	RulesFired       *prometheus.CounterVec
	RuleFailures     prometheus.Counter
	ChatTotal        *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AnalysisTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_total",
				Help:      "Total number of analyses by engine and status",
			},
			[]string{"engine", "status"},
		),
		AnalysisDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "Duration of analyses in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
			},
			[]string{"engine"},
		),
		CitedSources: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cited_sources",
				Help:      "Distribution of verified sources per answer",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
			},
		),
		RulesEvaluated: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rules_evaluated_total",
				Help:      "Total number of trigger rule evaluations",
			},
		),
		RulesFired: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rules_fired_total",
				Help:      "Total number of fired trigger rules by field",
			},
			[]string{"field"},
		),
		RuleFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_failures_total",
				Help:      "Total number of rule evaluations that failed",
			},
		),
		ChatTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_total",
				Help:      "Total number of chat turns by status",
			},
			[]string{"status"},
		),
		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of model tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "code"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordAnalysis records one finished analysis
func (m *Metrics) RecordAnalysis(engine string, sources int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.AnalysisTotal.WithLabelValues(engine, status(err)).Inc()
	m.AnalysisDuration.WithLabelValues(engine).Observe(d.Seconds())
	if err == nil {
		m.CitedSources.Observe(float64(sources))
	}
}

// RecordRule records one rule evaluation
func (m *Metrics) RecordRule(field string, fired bool, err error) {
	if m == nil {
		return
	}
	m.RulesEvaluated.Inc()
	if err != nil {
		m.RuleFailures.Inc()
		return
	}
	if fired {
		m.RulesFired.WithLabelValues(field).Inc()
	}
}

// RecordChat records one chat turn
func (m *Metrics) RecordChat(err error) {
	if m == nil {
		return
	}
	m.ChatTotal.WithLabelValues(status(err)).Inc()
}

// RecordToolCall records one tool invocation requested by the model
func (m *Metrics) RecordToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status(err)).Inc()
}

// RecordHTTP records one served HTTP request
func (m *Metrics) RecordHTTP(method, route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, code).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
