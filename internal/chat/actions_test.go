package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractActions(t *testing.T) {
	text := "已为您切换到设备模块。\n\n```action\n{\"action\": \"switch_module\", \"params\": {\"module\": \"assets\"}}\n```\n\n```action\n{not json}\n```"

	clean, actions := ExtractActions(text, nil)
	assert.Equal(t, "已为您切换到设备模块。", clean)
	require.Len(t, actions, 1)
	assert.Equal(t, "switch_module", actions[0].Action)
	assert.Equal(t, "assets", actions[0].Params["module"])
}

func TestExtractActions_NeverNil(t *testing.T) {
	clean, actions := ExtractActions("plain answer", nil)
	assert.Equal(t, "plain answer", clean)
	assert.NotNil(t, actions)
	assert.Empty(t, actions)

	_, actions = ExtractActions("```action\n{\"params\": {}}\n```", nil)
	assert.NotNil(t, actions)
	assert.Empty(t, actions)
}

func TestExtractActions_MissingParams(t *testing.T) {
	_, actions := ExtractActions("```action\n{\"action\": \"locate_entity\"}\n```", nil)
	require.Len(t, actions, 1)
	assert.NotNil(t, actions[0].Params)
}

func TestDetectToolCall(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		ok       bool
		tag      string
		duration string
	}{
		{"legacy marker", `查询中 @@TOOL_CALL:get_temperature:{"roomCode":"R101","duration":"7d"}@@`, true, "R101", "7d"},
		{"legacy malformed", `@@TOOL_CALL:get_temperature:{oops}@@`, true, "", ""},
		{"action block", "```action\n{\"action\":\"query_temperature\",\"params\":{\"roomCode\":\"PUMP-01 [3]\"}}\n```", true, "PUMP-01", ""},
		{"tag alias", "```action\n{\"action\":\"query_temperature\",\"params\":{\"tag\":\"R202\",\"duration\":\"24h\"}}\n```", true, "R202", "24h"},
		{"other action", "```action\n{\"action\":\"switch_module\",\"params\":{\"module\":\"iot\"}}\n```", false, "", ""},
		{"none", "温度正常", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := DetectToolCall(tt.text)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Nil(t, call)
				return
			}
			require.NotNil(t, call)
			assert.Equal(t, tt.tag, call.Tag)
			assert.Equal(t, tt.duration, call.Duration)
		})
	}
}

func TestStripToolCalls(t *testing.T) {
	got := StripToolCalls("正在查询\n\n\n\n@@TOOL_CALL:get_temperature:{\"roomCode\":\"R1\"}@@")
	assert.Equal(t, "正在查询", got)
}
