package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/app"
	"github.com/fruitsalade/nimbus/internal/config"
	"github.com/fruitsalade/nimbus/internal/logging"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "nimbus",
		Short: "Nimbus personal cloud storage core",
		Long: `Nimbus keeps a resource tree in a document store consistent with the
objects behind it, mirrors favorite files to local disk and runs the
maintenance jobs that repair drift between the two.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a nimbus.yaml config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newJobCommand(opts))
	return root
}

// setup loads config, initializes logging and wires the app. The returned
// context is cancelled on SIGINT or SIGTERM.
func (o *rootOptions) setup(parent context.Context) (context.Context, context.CancelFunc, *app.App, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	}); err != nil {
		return nil, nil, nil, fmt.Errorf("logging init error: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)

	logging.Info("connecting backends",
		zap.String("docstore", cfg.DocStore.Backend),
		zap.String("search", cfg.Search.Backend),
		zap.String("bucket", cfg.S3.Bucket),
		zap.Bool("cache", cfg.Cache.Enabled))

	a, err := app.New(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return ctx, stop, a, nil
}
