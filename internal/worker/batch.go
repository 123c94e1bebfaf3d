package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/trigger"
)

// Evaluator checks one reading against the trigger rules
type Evaluator interface {
	Evaluate(ctx context.Context, reading model.Reading, rc trigger.ReadingContext) (*trigger.EvaluationReport, error)
}

// Record is a submission with its position in the input
type Record struct {
	Line       int
	Submission trigger.Submission
}

// EvaluateJob evaluates one record
type EvaluateJob struct {
	Record    Record
	Evaluator Evaluator
}

// Execute runs the evaluation
func (j *EvaluateJob) Execute(ctx context.Context) Result {
	sub := j.Record.Submission
	report, err := j.Evaluator.Evaluate(ctx, sub.Values, sub.ReadingContext)
	return &EvaluateResult{
		Line:         j.Record.Line,
		LocationCode: sub.LocationCode,
		Report:       report,
		Error:        err,
	}
}

// EvaluateResult is the outcome of one record
type EvaluateResult struct {
	Line         int                       `json:"line"`
	LocationCode string                    `json:"locationCode"`
	Report       *trigger.EvaluationReport `json:"report,omitempty"`
	Error        error                     `json:"-"`
}

// GetError returns the evaluation error
func (r *EvaluateResult) GetError() error {
	return r.Error
}

// Summary totals a batch run
type Summary struct {
	Readings  int `json:"readings"`
	Evaluated int `json:"evaluated"`
	Fired     int `json:"fired"`
	Failures  int `json:"ruleFailures"`
	Errors    int `json:"errors"`
}

// Summarize totals results
func Summarize(results []*EvaluateResult) Summary {
	s := Summary{Readings: len(results)}
	for _, r := range results {
		if r.Error != nil {
			s.Errors++
			continue
		}
		if r.Report == nil {
			continue
		}
		s.Evaluated += r.Report.Evaluated
		s.Fired += r.Report.Fired
		s.Failures += len(r.Report.Failures)
	}
	return s
}

// BatchEvaluator evaluates many readings concurrently. Each reading's
// rules still run sequentially inside the evaluator.
type BatchEvaluator struct {
	evaluator   Evaluator
	concurrency int
	logger      *zap.Logger
}

// NewBatchEvaluator creates a batch evaluator
func NewBatchEvaluator(evaluator Evaluator, concurrency int, logger *zap.Logger) *BatchEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchEvaluator{
		evaluator:   evaluator,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ProcessRecords evaluates records and returns results ordered by line
func (b *BatchEvaluator) ProcessRecords(ctx context.Context, records []Record) []*EvaluateResult {
	if len(records) == 0 {
		return []*EvaluateResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for _, r := range records {
		if err := pool.Submit(&EvaluateJob{Record: r, Evaluator: b.evaluator}); err != nil {
			b.logger.Warn("batch stopped early", zap.Int("line", r.Line), zap.Error(err))
			break
		}
	}

	results := pool.Wait()

	out := make([]*EvaluateResult, 0, len(results))
	for _, r := range results {
		out = append(out, r.(*EvaluateResult))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })

	s := Summarize(out)
	b.logger.Info("batch evaluated",
		zap.Int("readings", s.Readings),
		zap.Int("fired", s.Fired),
		zap.Int("errors", s.Errors),
	)
	return out
}

// ProcessFile reads a JSON-lines readings file and evaluates it
func (b *BatchEvaluator) ProcessFile(ctx context.Context, filePath string) ([]*EvaluateResult, error) {
	records, err := ReadRecordsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read readings: %w", err)
	}
	return b.ProcessRecords(ctx, records), nil
}

// ReadRecordsFromFile parses one submission per line. Blank lines and
// lines starting with # are skipped; a malformed line fails the read.
func ReadRecordsFromFile(filePath string) ([]Record, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var records []Record

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var sub trigger.Submission
		if err := json.Unmarshal([]byte(text), &sub); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if sub.LocationCode == "" {
			return nil, fmt.Errorf("line %d: locationCode is required", line)
		}
		records = append(records, Record{Line: line, Submission: sub})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return records, nil
}
