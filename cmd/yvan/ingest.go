package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperjump/yvan/internal/app"
	"github.com/hyperjump/yvan/internal/cli"
	"github.com/hyperjump/yvan/internal/ingest"
	"github.com/hyperjump/yvan/internal/models"
)

func newIngestCmd(opts *options) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "ingest <file-or-directory>...",
		Short: "Ingest documents into the index",
		Long: `Ingests files, and every supported file in the given directories, and prints a
line per file plus the totals. Ingesting a file again adds its chunks again.

With --server the files are uploaded to the server, which also copies them into
its documents directory. With --server "" the index is updated directly.`,
		Example: `  yvan ingest storage/pdfs/tcm_book.pdf
  yvan ingest --recursive ./library
  yvan ingest --server "" --output json ./library`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			files, err := expandPaths(args, recursive)
			if err != nil {
				return err
			}
			var outcomes []app.FileOutcome
			if opts.serverURL != "" {
				outcomes = ingestViaHTTP(cmd.Context(), opts.client(), files)
			} else {
				a, _, cleanup, err := opts.openApp(app.WithWatch(false), app.WithBootstrap(false))
				if err != nil {
					return err
				}
				defer cleanup()
				if err := a.Start(cmd.Context()); err != nil {
					return err
				}
				outcomes = ingestDirect(cmd.Context(), a, files)
			}
			if err := cli.WriteIngestResults(cmd.OutOrStdout(), outcomes, format); err != nil {
				return err
			}
			if sum := app.Summarize(outcomes); sum.Failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", sum.Failed, sum.Files)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "include subdirectories")
	return cmd
}

// expandPaths replaces each directory argument with the supported files inside it.
// File arguments are kept as given, so an unsupported file is reported as a failure.
func expandPaths(args []string, recursive bool) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		found, err := ingest.SupportedFiles(arg, recursive)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

func ingestDirect(ctx context.Context, a *app.App, files []string) []app.FileOutcome {
	outcomes := make([]app.FileOutcome, 0, len(files))
	for _, path := range files {
		res, err := a.IngestDocument(ctx, path, models.TriggerCLI)
		outcomes = append(outcomes, outcome(path, res, err))
	}
	return outcomes
}

func ingestViaHTTP(ctx context.Context, c *cli.Client, files []string) []app.FileOutcome {
	outcomes := make([]app.FileOutcome, 0, len(files))
	for _, path := range files {
		res, err := c.Upload(ctx, path)
		outcomes = append(outcomes, outcome(path, res, err))
	}
	return outcomes
}

func outcome(path string, res *models.IngestResult, err error) app.FileOutcome {
	o := app.FileOutcome{Path: path, Result: res, Err: err}
	if err != nil {
		o.Result = nil
		o.Error = err.Error()
	}
	return o
}
