package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAnalysis(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAnalysis("direct", 3, time.Second, nil)
	m.RecordAnalysis("direct", 0, time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisTotal.WithLabelValues("direct", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisTotal.WithLabelValues("direct", "error")))
}

func TestRecordRule(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRule("temperature", true, nil)
	m.RecordRule("temperature", false, nil)
	m.RecordRule("humidity", false, errors.New("bad operator"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RulesEvaluated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RulesFired.WithLabelValues("temperature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleFailures))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAnalysis("workflow", 1, time.Millisecond, nil)
		m.RecordRule("temperature", true, nil)
		m.RecordChat(nil)
		m.RecordToolCall("query_temperature", nil)
		m.RecordHTTP("GET", "/", "200", time.Millisecond)
	})
}
