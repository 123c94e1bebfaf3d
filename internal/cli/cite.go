package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/twinsight/internal/app"
	"github.com/ppiankov/twinsight/internal/citation"
	"github.com/ppiankov/twinsight/internal/model"
)

var (
	citeDocuments string
	citeSources   string
	citeOffline   bool
	citeJSON      bool
)

// citeCmd represents the cite command
var citeCmd = &cobra.Command{
	Use:   "cite <file|->",
	Short: "Resolve citations in generated text",
	Long: `Cite runs the citation resolver over a piece of generated analysis text
and prints the linked text and the verified source list.

--documents is a JSON array of evidence documents used for positional and
name matching. --sources is the backend source map
({"1":{"externalFileId":"...","name":"..."}}). With --offline the catalog
is not consulted, so only those two inputs can resolve citations.

Example:
  twinsight cite answer.md --documents docs.json
  cat answer.md | twinsight cite - --offline --documents docs.json`,
	Args: cobra.ExactArgs(1),
	RunE: runCite,
}

func init() {
	rootCmd.AddCommand(citeCmd)

	citeCmd.Flags().StringVar(&citeDocuments, "documents", "", "JSON file with the evidence documents")
	citeCmd.Flags().StringVar(&citeSources, "sources", "", "JSON file with the backend source index map")
	citeCmd.Flags().BoolVar(&citeOffline, "offline", false, "do not look documents up in the catalog")
	citeCmd.Flags().BoolVar(&citeJSON, "json", false, "print the result as JSON")
}

func runCite(cmd *cobra.Command, args []string) error {
	text, err := readInput(args[0])
	if err != nil {
		return err
	}

	var docs []model.EvidenceDocument
	if citeDocuments != "" {
		if err := readJSONFile(citeDocuments, &docs); err != nil {
			return err
		}
	}
	var backend model.SourceIndexMap
	if citeSources != "" {
		if err := readJSONFile(citeSources, &backend); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var resolver *citation.Resolver
	if citeOffline {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		resolver = citation.NewResolver(nil, citation.Options{
			PreviewURL:       cfg.Citation.PreviewURL,
			DownloadURL:      cfg.Citation.DownloadURL,
			ReferenceSection: cfg.Citation.ReferenceSection,
		}, logger.Named("citation"))
	} else {
		a, logger, err := bootstrap(ctx, app.DispatchNone)
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() { _ = logger.Sync() }()
		resolver = a.Resolver
	}

	res, err := resolver.Resolve(ctx, text, backend, docs)
	if err != nil {
		return fmt.Errorf("resolve citations: %w", err)
	}

	if citeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Println(res.Text)
	printSources(res.Sources)
	return nil
}

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
