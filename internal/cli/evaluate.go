package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/twinsight/internal/app"
	"github.com/ppiankov/twinsight/internal/worker"
)

var (
	concurrency  int
	evalAnalyze  bool
	evalJSON     bool
	batchTimeout time.Duration
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate <readings.jsonl>",
	Short: "Check a file of readings against the trigger rules",
	Long: `Evaluate reads one JSON reading per line:

  {"locationCode":"R101","modelId":7,"values":{"temperature":35.5}}

Readings are evaluated in parallel. Blank lines and lines starting with #
are skipped. Fired rules are only reported unless --analyze is given,
in which case each fired rule is analyzed before the reading completes.

Example:
  twinsight evaluate readings.jsonl
  twinsight evaluate readings.jsonl --concurrency 8 --analyze`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default worker.concurrency)")
	evaluateCmd.Flags().BoolVar(&evalAnalyze, "analyze", false, "analyze fired rules")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "print results as JSON")
	evaluateCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for the batch")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	mode := app.DispatchNone
	if evalAnalyze {
		mode = app.DispatchSync
	}
	a, logger, err := bootstrap(ctx, mode)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = logger.Sync() }()

	workers := concurrency
	if workers <= 0 {
		workers = a.Config.Worker.Concurrency
	}

	if !evalJSON {
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
		fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
		fmt.Fprintf(os.Stderr, "  Analyze:      %v\n", evalAnalyze)
		fmt.Fprintf(os.Stderr, "\n")
	}

	b := worker.NewBatchEvaluator(a.Evaluator, workers, logger.Named("batch"))
	results, err := b.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}
	summary := worker.Summarize(results)

	if evalJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Results []*worker.EvaluateResult `json:"results"`
			Summary worker.Summary           `json:"summary"`
		}{results, summary})
	}

	for _, r := range results {
		if r.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ line %d %s: %v\n", r.Line, r.LocationCode, r.Error)
			continue
		}
		for _, alert := range r.Report.Alerts {
			fmt.Printf("! line %d %s: %s %.2f %s threshold %.2f\n",
				r.Line, alert.LocationCode, alert.Field, alert.Value, alert.Direction, alert.Threshold)
		}
		for _, f := range r.Report.Failures {
			fmt.Fprintf(os.Stderr, "✗ line %d rule %d (%s): %s\n", r.Line, f.RuleID, f.RuleName, f.Error)
		}
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Readings:       %d\n", summary.Readings)
	fmt.Fprintf(os.Stderr, "  Rules checked:  %d\n", summary.Evaluated)
	fmt.Fprintf(os.Stderr, "  Fired:          %d\n", summary.Fired)
	fmt.Fprintf(os.Stderr, "  Rule failures:  %d\n", summary.Failures)
	fmt.Fprintf(os.Stderr, "  Errors:         %d\n", summary.Errors)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}
