package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/logging"
)

func newJobCommand(opts *rootOptions) *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Maintenance jobs",
	}

	job.AddCommand(&cobra.Command{
		Use:       "run <sizer|reaper|indexer>",
		Short:     "Run one maintenance job now and exit",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"sizer", "reaper", "indexer"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, a, err := opts.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()
			defer logging.Sync()
			defer a.Close()

			if err := a.RunJob(ctx, args[0]); err != nil {
				return err
			}
			logging.Info("job complete", zap.String("job", args[0]))
			return nil
		},
	})
	return job
}
