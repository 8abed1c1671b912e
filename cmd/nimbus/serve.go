package main

import (
	"github.com/spf13/cobra"

	"github.com/fruitsalade/nimbus/internal/logging"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve cached files and run scheduled jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, a, err := opts.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()
			defer logging.Sync()
			defer a.Close()

			logging.Info("nimbus starting")
			if err := a.Run(ctx); err != nil {
				return err
			}
			logging.Info("nimbus stopped")
			return nil
		},
	}
}
