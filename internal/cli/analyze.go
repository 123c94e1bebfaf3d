package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/twinsight/internal/app"
	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/pipeline"
)

var (
	analyzeType     string
	analyzeName     string
	analyzeQuestion string
	analyzeModelID  int64
	analyzeEngine   string
	analyzeTimeout  time.Duration
	analyzeJSON     bool

	alertValue     float64
	alertThreshold float64
	alertDirection string
	alertField     string
	alertRuleID    int64
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <code>",
	Short: "Analyze a room or asset",
	Long: `Run a manual analysis of a room or asset. With --value the request is
treated as a fired alert instead, and the rule engine settings apply.

Example:
  twinsight analyze R101 --question "为什么温度偏高"
  twinsight analyze AHU-01 --type asset --engine workflow
  twinsight analyze R101 --value 35.5 --threshold 30 --direction high`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeType, "type", "space", "target type (space, room, asset)")
	analyzeCmd.Flags().StringVar(&analyzeName, "name", "", "target display name")
	analyzeCmd.Flags().StringVarP(&analyzeQuestion, "question", "q", "", "question to ask about the target")
	analyzeCmd.Flags().Int64Var(&analyzeModelID, "file-id", 0, "building model id scoping the knowledge base")
	analyzeCmd.Flags().StringVar(&analyzeEngine, "engine", "", "force an engine (workflow, direct)")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 3*time.Minute, "overall timeout")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the full result as JSON")

	analyzeCmd.Flags().Float64Var(&alertValue, "value", 0, "measured value; analyzes as an alert")
	analyzeCmd.Flags().Float64Var(&alertThreshold, "threshold", 0, "alert threshold")
	analyzeCmd.Flags().StringVar(&alertDirection, "direction", "high", "alert direction (high, low)")
	analyzeCmd.Flags().StringVar(&alertField, "field", "temperature", "alert field")
	analyzeCmd.Flags().Int64Var(&alertRuleID, "rule", 0, "rule id selecting the engine")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	code := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	a, logger, err := bootstrap(ctx, app.DispatchNone)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = logger.Sync() }()

	var result *model.AnalysisResult
	if cmd.Flags().Changed("value") {
		alert, aErr := buildAlert(code)
		if aErr != nil {
			return aErr
		}
		result, err = a.Pipeline.ProcessAlert(ctx, alert, pipeline.AlertOptions{APIBaseURL: a.Config.Server.BaseURL})
	} else {
		target, tErr := buildTarget(code)
		if tErr != nil {
			return tErr
		}
		result, err = a.Pipeline.Analyze(ctx, pipeline.ManualRequest{
			Target:     target,
			Question:   analyzeQuestion,
			ModelID:    analyzeModelID,
			Engine:     analyzeEngine,
			APIBaseURL: a.Config.Server.BaseURL,
		})
	}
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if analyzeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printAnalysis(result)
	return nil
}

func buildTarget(code string) (model.Target, error) {
	target := model.Target{Code: code, Name: analyzeName}
	switch strings.ToLower(analyzeType) {
	case "space", "room":
		target.Type = "space"
	case "asset":
		target.Type = "asset"
	default:
		return target, fmt.Errorf("invalid --type %q (supported: space, room, asset)", analyzeType)
	}
	if analyzeEngine != "" {
		if _, err := model.ParseEngineKind(analyzeEngine); err != nil {
			return target, err
		}
	}
	return target, nil
}

func buildAlert(code string) (model.Alert, error) {
	alert := model.Alert{
		LocationCode: code,
		LocationName: analyzeName,
		Field:        alertField,
		Value:        alertValue,
		Threshold:    alertThreshold,
		ModelID:      analyzeModelID,
		RuleID:       alertRuleID,
		Timestamp:    time.Now().UTC(),
	}
	switch model.Direction(strings.ToLower(alertDirection)) {
	case model.DirectionHigh:
		alert.Direction = model.DirectionHigh
	case model.DirectionLow:
		alert.Direction = model.DirectionLow
	default:
		return alert, fmt.Errorf("invalid --direction %q (supported: high, low)", alertDirection)
	}
	return alert, nil
}

func printAnalysis(result *model.AnalysisResult) {
	fmt.Println(result.Text)
	printSources(result.Sources)
}

func printSources(sources []model.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	for _, s := range sources {
		fmt.Printf("  [%d] %s  %s\n", s.ID, s.Name, s.PreviewURL)
	}
}
