package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/app"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the analysis, chat and readings API.

Readings posted to /api/iot/readings are checked against the enabled
trigger rules. Fired rules are analyzed in the background.

Example:
  twinsight serve
  twinsight serve --addr :8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, logger, err := bootstrap(ctx, app.DispatchAsync)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = logger.Sync() }()

	if serveAddr != "" {
		a.Config.Server.Addr = serveAddr
	}
	logger.Info("starting twinsight",
		zap.String("version", Version),
		zap.String("addr", a.Config.Server.Addr),
	)
	return a.Server().Run(ctx)
}

// bootstrap loads the configuration and wires the services
func bootstrap(ctx context.Context, mode app.DispatchMode) (*app.App, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, mode, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	return a, logger, nil
}
