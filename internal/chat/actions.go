package chat

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/model"
)

// ActionQueryTemperature is the structured form of the temperature tool
const ActionQueryTemperature = "query_temperature"

var (
	actionBlock = regexp.MustCompile("(?s)```action\\s*(.*?)\\s*```")
	legacyTool  = regexp.MustCompile(`(?s)@@TOOL_CALL:get_temperature:(.*?)@@`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// ExtractActions removes every fenced action block from text and returns
// the parsed actions. Blocks that are not valid JSON objects with an
// action name are dropped. The returned slice is never nil.
func ExtractActions(text string, logger *zap.Logger) (string, []model.Action) {
	actions := []model.Action{}

	clean := actionBlock.ReplaceAllStringFunc(text, func(block string) string {
		body := actionBlock.FindStringSubmatch(block)[1]

		var a model.Action
		if err := json.Unmarshal([]byte(body), &a); err != nil || a.Action == "" {
			if logger != nil {
				logger.Warn("dropping invalid action block", zap.String("block", truncate(body, 200)), zap.Error(err))
			}
			return ""
		}
		if a.Params == nil {
			a.Params = map[string]any{}
		}
		actions = append(actions, a)
		return ""
	})

	return tidy(clean), actions
}

// StripToolCalls removes legacy inline tool markers
func StripToolCalls(text string) string {
	return tidy(legacyTool.ReplaceAllString(text, ""))
}

func tidy(text string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}

// ToolCall is a temperature query requested by the model
type ToolCall struct {
	Tag      string
	Duration string
}

type toolArgs struct {
	RoomCode string `json:"roomCode"`
	Tag      string `json:"tag"`
	Code     string `json:"code"`
	Location string `json:"location"`
	Duration string `json:"duration"`
}

func (a toolArgs) call() *ToolCall {
	tag := a.RoomCode
	for _, v := range []string{a.Tag, a.Code, a.Location} {
		if tag == "" {
			tag = v
		}
	}
	return &ToolCall{Tag: cleanTag(tag), Duration: strings.TrimSpace(a.Duration)}
}

// DetectToolCall looks for a temperature query in either the legacy
// inline marker or a fenced query_temperature action block
func DetectToolCall(text string) (*ToolCall, bool) {
	if m := legacyTool.FindStringSubmatch(text); m != nil {
		var args toolArgs
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &args); err != nil {
			// a malformed marker still asks for data; resolve from context
			return &ToolCall{}, true
		}
		return args.call(), true
	}

	for _, m := range actionBlock.FindAllStringSubmatch(text, -1) {
		var block struct {
			Action string   `json:"action"`
			Params toolArgs `json:"params"`
		}
		if err := json.Unmarshal([]byte(m[1]), &block); err != nil {
			continue
		}
		if block.Action == ActionQueryTemperature {
			return block.Params.call(), true
		}
	}
	return nil, false
}

var bracketSuffix = regexp.MustCompile(`\s*\[.*?\]$`)

// cleanTag drops a trailing " [id]" the model sometimes copies from the prompt
func cleanTag(s string) string {
	return strings.TrimSpace(bracketSuffix.ReplaceAllString(strings.TrimSpace(s), ""))
}

// withoutAction filters out actions with the given name
func withoutAction(actions []model.Action, name string) []model.Action {
	out := actions[:0]
	for _, a := range actions {
		if a.Action != name {
			out = append(out, a)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
