package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/settings"
)

type mapSettings map[string]string

func (m mapSettings) Get(ctx context.Context, key, def string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return def
}

func alertSubject(value, threshold float64) Subject {
	return Subject{
		Kind: SubjectAlert,
		Alert: &model.Alert{
			LocationCode: "R101",
			LocationName: "Server Room",
			Field:        "temperature",
			Value:        value,
			Threshold:    threshold,
			Direction:    model.DirectionHigh,
			ModelID:      7,
			Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func TestWorkflowAdapter_Payload(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook/temperature-alert" {
			t.Errorf("Expected path /webhook/temperature-alert, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"analysis":"Check [1]","sourceIndexMap":{"1":{"openwebuiFileId":"f1","fileName":"AHU.pdf"}}}`))
	}))
	defer server.Close()

	a := NewWorkflowAdapter(nil, nil, model.WorkflowConfig{BaseURL: server.URL, AlertPath: "/webhook/temperature-alert"}, "http://api", nil)
	out, err := a.Run(context.Background(), Request{Subject: alertSubject(31, 25)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out.Text != "Check [1]" {
		t.Errorf("Unexpected text: %q", out.Text)
	}
	if ref := out.SourceIndexMap[1]; ref.ExternalFileID != "f1" || ref.Name != "AHU.pdf" {
		t.Errorf("Unexpected source map: %+v", out.SourceIndexMap)
	}

	if got["eventType"] != "temperature_alert" {
		t.Errorf("Unexpected eventType: %v", got["eventType"])
	}
	if got["locationCode"] != "R101" || got["direction"] != "high" {
		t.Errorf("Unexpected location/direction: %v %v", got["locationCode"], got["direction"])
	}
	if got["apiBaseUrl"] != "http://api" {
		t.Errorf("Unexpected apiBaseUrl: %v", got["apiBaseUrl"])
	}
	if got["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("Unexpected timestamp: %v", got["timestamp"])
	}
	meta, _ := got["metadata"].(map[string]any)
	if meta["severity"] != "critical" {
		t.Errorf("Expected critical severity, got %v", meta["severity"])
	}
	if meta["field"] != "temperature" {
		t.Errorf("Expected field temperature, got %v", meta["field"])
	}
}

func TestWorkflowAdapter_SeverityWarning(t *testing.T) {
	a := NewWorkflowAdapter(nil, nil, model.WorkflowConfig{}, "", nil)
	p := a.payload(context.Background(), alertSubject(27, 25))
	if p.Metadata.Severity != "warning" {
		t.Errorf("Expected warning, got %s", p.Metadata.Severity)
	}
}

func TestWorkflowAdapter_APIBaseURLPrecedence(t *testing.T) {
	s := mapSettings{settings.KeyAPIBaseURL: "http://from-settings"}
	a := NewWorkflowAdapter(nil, s, model.WorkflowConfig{}, "http://configured", nil)

	subj := alertSubject(30, 25)
	subj.APIBaseURL = "https://twin.example.com"
	if p := a.payload(context.Background(), subj); p.APIBaseURL != "https://twin.example.com" {
		t.Errorf("Expected request base URL, got %s", p.APIBaseURL)
	}

	if p := a.payload(context.Background(), alertSubject(30, 25)); p.APIBaseURL != "http://from-settings" {
		t.Errorf("Expected settings base URL without a request value, got %s", p.APIBaseURL)
	}

	bare := NewWorkflowAdapter(nil, nil, model.WorkflowConfig{}, "http://configured", nil)
	if p := bare.payload(context.Background(), alertSubject(30, 25)); p.APIBaseURL != "http://configured" {
		t.Errorf("Expected configured base URL, got %s", p.APIBaseURL)
	}
}

func TestWorkflowAdapter_PathOverrideAndSettings(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`"plain answer"`))
	}))
	defer server.Close()

	s := mapSettings{settings.KeyWorkflowURL: server.URL + "/"}
	a := NewWorkflowAdapter(nil, s, model.WorkflowConfig{BaseURL: "http://unused", AlertPath: "/default"}, "", nil)

	out, err := a.Run(context.Background(), Request{Subject: alertSubject(30, 25), WorkflowPath: "webhook/custom"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if path != "/webhook/custom" {
		t.Errorf("Expected /webhook/custom, got %s", path)
	}
	if out.Text != "plain answer" {
		t.Errorf("Expected bare string analysis, got %q", out.Text)
	}
	if out.SourceIndexMap == nil {
		t.Error("Expected initialized source map")
	}
}

func TestWorkflowAdapter_ManualPayload(t *testing.T) {
	var got workflowPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook/manual-analysis" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"analysis":"ok"}`))
	}))
	defer server.Close()

	a := NewWorkflowAdapter(nil, nil, model.WorkflowConfig{BaseURL: server.URL, ManualPath: "/webhook/manual-analysis"}, "", nil)
	subj := Subject{
		Kind:     SubjectManual,
		Target:   &model.Target{Type: "asset", Code: "AHU-01", Name: "Air Handler", Room: "R101"},
		Question: "why noisy?",
	}
	if _, err := a.Run(context.Background(), Request{Subject: subj}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got.EventType != "manual_analysis" {
		t.Errorf("Unexpected eventType %s", got.EventType)
	}
	if got.LocationCode != "R101" {
		t.Errorf("Expected asset room as location, got %s", got.LocationCode)
	}
	if got.Metadata.Question != "why noisy?" || got.Metadata.Target == nil || got.Metadata.Target.Code != "AHU-01" {
		t.Errorf("Unexpected metadata: %+v", got.Metadata)
	}
	if got.Value != nil {
		t.Error("Manual payload should not carry a value")
	}
}

func TestWorkflowAdapter_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		upstream  bool
		malformed bool
	}{
		{"server error", http.StatusInternalServerError, "boom", true, false},
		{"not json", http.StatusOK, "<html>", false, true},
		{"missing analysis", http.StatusOK, `{"result":"x"}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			a := NewWorkflowAdapter(nil, nil, model.WorkflowConfig{BaseURL: server.URL}, "", nil)
			_, err := a.Run(context.Background(), Request{Subject: alertSubject(30, 25)})
			if err == nil {
				t.Fatal("Expected error, got nil")
			}

			var up *model.UpstreamError
			if errors.As(err, &up) != tt.upstream {
				t.Errorf("UpstreamError match = %v, want %v (%v)", !tt.upstream, tt.upstream, err)
			}
			if tt.upstream && up.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, up.StatusCode)
			}
			var mal *model.MalformedResponseError
			if errors.As(err, &mal) != tt.malformed {
				t.Errorf("MalformedResponseError match = %v, want %v (%v)", !tt.malformed, tt.malformed, err)
			}
		})
	}
}

func TestWorkflowAdapter_MissingBaseURL(t *testing.T) {
	a := NewWorkflowAdapter(nil, nil, model.WorkflowConfig{AlertPath: "/x"}, "", nil)
	_, err := a.Run(context.Background(), Request{Subject: alertSubject(30, 25)})
	if !errors.Is(err, model.ErrConfigurationMissing) {
		t.Fatalf("Expected ErrConfigurationMissing, got %v", err)
	}
}
