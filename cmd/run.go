package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"converge/internal/app"
	"converge/internal/config"
	"converge/pkg/logging"
)

type runOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	mode       string
	quiet      bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controllers until interrupted",
		Long: `Starts the manager with the WebPage controller and blocks until SIGINT or
SIGTERM is received.

Configuration is read from config.yaml in the configuration directory
(default ~/.config/converge). The store backend is taken from the "mode"
setting unless --mode is given:

  kubernetes  resources live in the cluster found via kubeconfig or in-cluster config
  filesystem  resources are YAML files below filesystemPath
  auto        kubernetes when reachable, filesystem otherwise

When running under systemd with Type=notify, readiness is reported once all
caches have synced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config-path", "", "Configuration directory (default ~/.config/converge)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", string(logging.FormatText), "Log format: text or json")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Override the store mode: kubernetes, filesystem or auto")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress all output")
	return cmd
}

func runRun(ctx context.Context, opts *runOptions) error {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	configPath := opts.configPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	cfg := app.NewConfig(level, logging.Format(opts.logFormat), configPath)
	cfg.Silent = opts.quiet
	cfg.ModeOverride = config.Mode(opts.mode)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}
