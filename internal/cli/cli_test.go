package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/twinsight/internal/model"
)

func TestRegisterDefaults_EnvOverride(t *testing.T) {
	t.Setenv("TWINSIGHT_RAG_BASE_URL", "http://webui:8080")
	t.Setenv("TWINSIGHT_WORKER_CONCURRENCY", "9")

	v := viper.New()
	v.SetEnvPrefix("TWINSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	require.NoError(t, registerDefaults(v, model.DefaultConfig()))

	cfg := model.DefaultConfig()
	require.NoError(t, v.Unmarshal(cfg))

	assert.Equal(t, "http://webui:8080", cfg.RAG.BaseURL)
	assert.Equal(t, 9, cfg.Worker.Concurrency)
	assert.Equal(t, ":3001", cfg.Server.Addr)
	assert.Equal(t, "room_temp", cfg.TimeSeries.Measurement)
}

func TestWriteDefaultConfig(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDefaultConfig(&buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# Twinsight Configuration File"))

	var cfg model.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &cfg))
	assert.Equal(t, model.DefaultConfig().Workflow.AlertPath, cfg.Workflow.AlertPath)
}

func TestBuildTarget(t *testing.T) {
	analyzeType, analyzeEngine = "room", ""
	target, err := buildTarget("R101")
	require.NoError(t, err)
	assert.Equal(t, "space", target.Type)

	analyzeType = "planet"
	_, err = buildTarget("R101")
	assert.Error(t, err)

	analyzeType, analyzeEngine = "asset", "magic"
	_, err = buildTarget("AHU-01")
	assert.Error(t, err)

	analyzeType, analyzeEngine = "space", ""
}

func TestBuildAlert(t *testing.T) {
	alertDirection, alertValue, alertField = "LOW", 12, "temperature"
	alert, err := buildAlert("R101")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionLow, alert.Direction)
	assert.Equal(t, 12.0, alert.Value)

	alertDirection = "up"
	_, err = buildAlert("R101")
	assert.Error(t, err)

	alertDirection = "high"
}
