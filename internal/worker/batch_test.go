package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/trigger"
)

type mockEvaluator struct {
	mu    sync.Mutex
	seen  []string
	fails map[string]bool
}

func (m *mockEvaluator) Evaluate(ctx context.Context, reading model.Reading, rc trigger.ReadingContext) (*trigger.EvaluationReport, error) {
	m.mu.Lock()
	m.seen = append(m.seen, rc.LocationCode)
	m.mu.Unlock()

	if m.fails[rc.LocationCode] {
		return nil, errors.New("rules unavailable")
	}
	report := &trigger.EvaluationReport{Evaluated: 1}
	if reading["temperature"] > 30 {
		report.Fired = 1
	}
	return report, nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "readings.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadRecordsFromFile(t *testing.T) {
	path := writeFile(t, `# nightly export
{"locationCode":"R101","modelId":7,"values":{"temperature":35}}

{"locationCode":"R102","timestamp":"2026-03-01T08:00:00Z","values":{"temperature":21.5,"humidity":40}}
`)

	records, err := ReadRecordsFromFile(path)
	if err != nil {
		t.Fatalf("ReadRecordsFromFile failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Line != 2 || records[1].Line != 4 {
		t.Errorf("unexpected line numbers %d, %d", records[0].Line, records[1].Line)
	}
	if records[0].Submission.ModelID != 7 {
		t.Errorf("expected model 7, got %d", records[0].Submission.ModelID)
	}
	if records[1].Submission.Values["humidity"] != 40 {
		t.Errorf("expected humidity 40, got %v", records[1].Submission.Values["humidity"])
	}
	if records[1].Submission.Timestamp.IsZero() {
		t.Error("expected timestamp to be parsed")
	}
}

func TestReadRecordsFromFile_Malformed(t *testing.T) {
	if _, err := ReadRecordsFromFile(writeFile(t, "{not json}\n")); err == nil {
		t.Error("expected error for malformed line")
	}
	if _, err := ReadRecordsFromFile(writeFile(t, `{"values":{"temperature":1}}`)); err == nil {
		t.Error("expected error for missing locationCode")
	}
	if _, err := ReadRecordsFromFile("no_such_file.jsonl"); err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestBatchEvaluator_ProcessFile(t *testing.T) {
	path := writeFile(t, `{"locationCode":"R101","values":{"temperature":35}}
{"locationCode":"R102","values":{"temperature":22}}
{"locationCode":"R103","values":{"temperature":31}}
{"locationCode":"BROKEN","values":{"temperature":50}}
`)
	eval := &mockEvaluator{fails: map[string]bool{"BROKEN": true}}
	b := NewBatchEvaluator(eval, 3, nil)

	results, err := b.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Line != i+1 {
			t.Errorf("result %d has line %d, expected ordered output", i, r.Line)
		}
	}
	if results[3].GetError() == nil {
		t.Error("expected error for BROKEN")
	}

	s := Summarize(results)
	if s.Readings != 4 || s.Evaluated != 3 || s.Fired != 2 || s.Errors != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestBatchEvaluator_Empty(t *testing.T) {
	b := NewBatchEvaluator(&mockEvaluator{}, 2, nil)
	if results := b.ProcessRecords(context.Background(), nil); len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}
