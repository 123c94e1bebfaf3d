package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EngineKind names the backend that produces the analysis text
type EngineKind string

const (
	EngineWorkflow EngineKind = "workflow"
	EngineDirect   EngineKind = "direct"
)

// ParseEngineKind accepts the stored engine names, including the legacy ones
func ParseEngineKind(s string) (EngineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "workflow", "n8n":
		return EngineWorkflow, nil
	case "direct", "builtin", "rag", "":
		return EngineDirect, nil
	default:
		return "", fmt.Errorf("unknown analysis engine: %s (supported: workflow, direct)", s)
	}
}

// Engine is the selected backend. WorkflowPath is only meaningful for
// EngineWorkflow; empty means the configured default path.
type Engine struct {
	Kind         EngineKind `json:"kind"`
	WorkflowPath string     `json:"workflowPath,omitempty"`
}

func (e Engine) String() string {
	if e.Kind == EngineWorkflow && e.WorkflowPath != "" {
		return string(e.Kind) + ":" + e.WorkflowPath
	}
	return string(e.Kind)
}

// SourceRef is one backend-supplied citation target
type SourceRef struct {
	ExternalFileID string `json:"externalFileId,omitempty"`
	Name           string `json:"name,omitempty"`
	DocID          int64  `json:"docId,omitempty"`
}

// UnmarshalJSON accepts the field spellings used by workflow backends
func (s *SourceRef) UnmarshalJSON(data []byte) error {
	var raw struct {
		ExternalFileID  string          `json:"externalFileId"`
		OpenWebUIFileID string          `json:"openwebuiFileId"`
		FileID          string          `json:"fileId"`
		Name            string          `json:"name"`
		FileName        string          `json:"fileName"`
		DocID           json.RawMessage `json:"docId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.ExternalFileID = firstNonEmpty(raw.ExternalFileID, raw.OpenWebUIFileID, raw.FileID)
	s.Name = firstNonEmpty(raw.Name, raw.FileName)
	s.DocID = 0

	if len(raw.DocID) > 0 && string(raw.DocID) != "null" {
		text := strings.Trim(string(raw.DocID), `"`)
		if id, err := strconv.ParseInt(text, 10, 64); err == nil {
			s.DocID = id
		}
	}
	return nil
}

// SourceIndexMap maps 1-based citation indices to backend sources
type SourceIndexMap map[int]SourceRef

// Origin records how a citation entry entered the index map
type Origin string

const (
	OriginBackendSource   Origin = "backendSource"
	OriginContextFallback Origin = "contextFallback"
	OriginTextualMatch    Origin = "textualMatch"
)

// CitationEntry is one slot of the citation index map
type CitationEntry struct {
	Index          int    `json:"index"`
	LocalDocID     int64  `json:"localDocId,omitempty"`
	ExternalFileID string `json:"externalFileId,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
	Origin         Origin `json:"origin"`
}

// Resolved reports whether the entry points at a local document
func (e CitationEntry) Resolved() bool {
	return e.LocalDocID > 0
}

// Source is a verified, deduplicated citation target
type Source struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PreviewURL  string `json:"previewUrl"`
	DownloadURL string `json:"downloadUrl"`
}

// AnalysisResult is the output of the analysis pipeline
type AnalysisResult struct {
	Text     string    `json:"analysis"`
	Sources  []Source  `json:"sources"`
	Engine   Engine    `json:"engine"`
	Alert    *Alert    `json:"alert,omitempty"`
	Evidence *Evidence `json:"-"`
}

// Target is the entity a manual analysis is about
type Target struct {
	Type       string         `json:"type"` // "space" or "asset"
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Room       string         `json:"room,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// LocationCode returns the location the target belongs to
func (t Target) LocationCode() string {
	if t.Type == "asset" && t.Room != "" {
		return t.Room
	}
	return t.Code
}

// Point is one aggregated time-series sample
type Point struct {
	Timestamp int64   `json:"timestamp"` // unix millis
	Value     float64 `json:"value"`
}

// SeriesStats summarizes a series over a window
type SeriesStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"avg"`
	Count int64   `json:"count"`
}

// TimeRange is a closed interval in unix millis
type TimeRange struct {
	StartMs int64 `json:"startMs"`
	EndMs   int64 `json:"endMs"`
}

// ChartSeries is chart data returned alongside a chat answer
type ChartSeries struct {
	Type   string      `json:"type"`
	Tag    string      `json:"tag"`
	Title  string      `json:"title"`
	Points []Point     `json:"points"`
	Range  TimeRange   `json:"range"`
	Stats  SeriesStats `json:"stats"`
}

// Action is a structured client command emitted by the model
type Action struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// ChatResponse is the answer of the conversational loop
type ChatResponse struct {
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Sources   []Source     `json:"sources"`
	ChartData *ChartSeries `json:"chartData,omitempty"`
	Actions   []Action     `json:"actions"`
	Timestamp time.Time    `json:"timestamp"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
