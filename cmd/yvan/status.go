package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperjump/yvan/internal/app"
	"github.com/hyperjump/yvan/internal/cli"
	"github.com/hyperjump/yvan/internal/ledger"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index, ledger and configuration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			var st *app.Status
			if opts.serverURL != "" {
				st, err = opts.client().Status(cmd.Context())
			} else {
				a, _, cleanup, openErr := opts.openApp(app.WithWatch(false), app.WithBootstrap(false))
				if openErr != nil {
					return openErr
				}
				defer cleanup()
				st, err = a.Status(cmd.Context())
			}
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
}

func newDocumentsCmd(opts *options) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List ingestion history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			var records []ledger.Record
			if opts.serverURL != "" {
				records, err = opts.client().Documents(cmd.Context(), offset, limit)
			} else {
				a, _, cleanup, openErr := opts.openApp(app.WithWatch(false), app.WithBootstrap(false))
				if openErr != nil {
					return openErr
				}
				defer cleanup()
				records, err = a.ListDocuments(cmd.Context(), offset, limit)
			}
			if err != nil {
				return err
			}
			return cli.WriteDocuments(cmd.OutOrStdout(), records, format)
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "number of records to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}
