package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the escalation worker",
		Long: `Poll the escalation job table and run due escalation steps. Any number of
workers can run against the same database; jobs are leased, never shared.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, opts.config, opts.logger, appOptions{RequireDB: true})
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Dispatcher.Start(ctx); err != nil {
				return err
			}
			defer app.Dispatcher.Stop()

			return app.Worker.Run(ctx)
		},
	}
}
