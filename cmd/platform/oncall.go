package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mitigateops/platform/internal/directory"
	"github.com/mitigateops/platform/internal/oncall"
	"github.com/mitigateops/platform/internal/shared/database"
)

func newOnCallCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oncall",
		Short: "Manage on-call configuration",
	}
	cmd.AddCommand(newOnCallImportCommand(opts))
	return cmd
}

func newOnCallImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load responders and escalation chains from a YAML file",
		Long: `Load responders and escalation chains from a YAML file.

Responders are upserted by id. Each listed organization gets its
configuration replaced and its chain rebuilt at positions 1..n in file
order.

Example:
  platform oncall import ./oncall.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := database.New(ctx, opts.config.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			importer := oncall.NewImporter(
				oncall.NewPostgresRepository(db.Pool),
				directory.NewPostgresDirectory(db.Pool),
				opts.logger,
			)
			summary, err := importer.ImportPath(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d responders, %d configurations, %d contacts\n",
				summary.Responders, summary.Configurations, summary.Contacts)
			return nil
		},
	}
}
