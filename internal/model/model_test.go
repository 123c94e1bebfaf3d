package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestOperatorCompare(t *testing.T) {
	tests := []struct {
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{OpGreater, 31, 30, true},
		{OpGreater, 30, 30, false},
		{OpGreaterEqual, 30, 30, true},
		{OpLess, 9, 10, true},
		{OpLessEqual, 10, 10, true},
		{OpEqual, 10, 10, true},
		{OpEqual, 10.5, 10, false},
	}
	for _, tt := range tests {
		got, err := tt.op.Compare(tt.value, tt.threshold)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.op, err)
		}
		if got != tt.want {
			t.Errorf("%v %s %v = %v, want %v", tt.value, tt.op, tt.threshold, got, tt.want)
		}
	}

	if _, err := Operator("between").Compare(1, 2); err == nil {
		t.Error("expected error for unknown operator")
	}
}

func TestDirectionFor(t *testing.T) {
	tests := []struct {
		op        Operator
		value     float64
		threshold float64
		want      Direction
	}{
		{OpGreater, 35, 30, DirectionHigh},
		{OpLess, 5, 10, DirectionLow},
		{OpGreaterEqual, 30, 30, DirectionHigh},
		{OpLessEqual, 10, 10, DirectionLow},
		{OpEqual, 10, 10, DirectionHigh},
	}
	for _, tt := range tests {
		if got := DirectionFor(tt.op, tt.value, tt.threshold); got != tt.want {
			t.Errorf("DirectionFor(%s, %v, %v) = %s, want %s", tt.op, tt.value, tt.threshold, got, tt.want)
		}
	}
}

func TestOperatorMatches(t *testing.T) {
	if !OpGreaterEqual.Matches(DirectionHigh) || OpGreaterEqual.Matches(DirectionLow) {
		t.Error("gte should watch high readings only")
	}
	if !OpLess.Matches(DirectionLow) {
		t.Error("lt should watch low readings")
	}
	if OpEqual.Matches(DirectionHigh) || OpEqual.Matches(DirectionLow) {
		t.Error("eq watches neither side")
	}
}

func TestAlertSeverity(t *testing.T) {
	if s := (Alert{Value: 34.9, Threshold: 30}).Severity(); s != SeverityWarning {
		t.Errorf("expected warning, got %s", s)
	}
	if s := (Alert{Value: 35, Threshold: 30}).Severity(); s != SeverityCritical {
		t.Errorf("expected critical, got %s", s)
	}
	if s := (Alert{Value: 2, Threshold: 8}).Severity(); s != SeverityCritical {
		t.Errorf("expected critical for low reading, got %s", s)
	}
}

func TestParseEngineKind(t *testing.T) {
	for in, want := range map[string]EngineKind{
		"workflow": EngineWorkflow,
		"N8N":      EngineWorkflow,
		"direct":   EngineDirect,
		"":         EngineDirect,
	} {
		got, err := ParseEngineKind(in)
		if err != nil {
			t.Fatalf("ParseEngineKind(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseEngineKind(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseEngineKind("oracle"); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestSourceRefAliases(t *testing.T) {
	var m SourceIndexMap
	data := `{"1":{"openwebuiFileId":"f-1","fileName":"AHU_manual.pdf"},"2":{"externalFileId":"f-2","name":"pump.pdf","docId":"42"}}`
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if m[1].ExternalFileID != "f-1" || m[1].Name != "AHU_manual.pdf" {
		t.Errorf("aliases not applied: %+v", m[1])
	}
	if m[2].DocID != 42 {
		t.Errorf("expected quoted docId to parse, got %d", m[2].DocID)
	}
}

func TestTargetLocationCode(t *testing.T) {
	if got := (Target{Type: "asset", Code: "AHU-01", Room: "R101"}).LocationCode(); got != "R101" {
		t.Errorf("asset should resolve to its room, got %s", got)
	}
	if got := (Target{Type: "space", Code: "R102"}).LocationCode(); got != "R102" {
		t.Errorf("space should resolve to itself, got %s", got)
	}
}

func TestEvidenceDocumentHelpers(t *testing.T) {
	d := EvidenceDocument{Title: "Pump room photo", FileName: "PUMP.JPG"}
	if d.DisplayName() != "PUMP.JPG" || !d.IsImage() {
		t.Errorf("unexpected helpers for %+v", d)
	}
	if BaseName("AHU_manual.pdf") != "AHU_manual" || BaseName(".env") != ".env" {
		t.Error("BaseName mismatch")
	}
	var ev *Evidence
	if ev.DocumentIDs() != nil {
		t.Error("nil evidence should yield nil ids")
	}
}

func TestErrors(t *testing.T) {
	err := MissingConfig("openwebui_url")
	if !errors.Is(err, ErrConfigurationMissing) {
		t.Error("MissingConfig should wrap ErrConfigurationMissing")
	}

	inner := errors.New("unexpected EOF")
	var malformed *MalformedResponseError
	wrapped := error(&MalformedResponseError{Service: "rag", Err: inner})
	if !errors.As(wrapped, &malformed) || !errors.Is(wrapped, inner) {
		t.Error("MalformedResponseError should unwrap to its cause")
	}
}

func TestSeriesStatsJSON(t *testing.T) {
	data, err := json.Marshal(SeriesStats{Min: 18, Max: 31, Mean: 24.5, Count: 96})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if got := string(data); got != `{"min":18,"max":31,"avg":24.5,"count":96}` {
		t.Errorf("unexpected stats JSON: %s", got)
	}
}
