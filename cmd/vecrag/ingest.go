package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	dombatch "github.com/kailas-cloud/vecrag/internal/domain/batch"
)

type ingestOptions struct {
	recreate bool
}

func newIngestCmd(c *cli) *cobra.Command {
	opts := ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Chunk, embed and store files",
		Long: `Ingest files and directories. Directories are walked recursively and only
files with a configured extension are loaded.

Example:
  vecrag ingest ./docs
  vecrag ingest README.md docs/guide.md --recreate`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ingest(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.recreate, "recreate", false, "Drop and recreate the collections before ingesting")
	return cmd
}

func (c *cli) ingest(ctx context.Context, out io.Writer, paths []string, opts ingestOptions) error {
	a, log, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer a.Close()

	if err := a.EnsureCollections(ctx, opts.recreate); err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}

	results, err := a.Ingest.IngestFiles(ctx, paths)
	if err != nil && results == nil {
		return err
	}
	printIngestResults(out, results)

	if sum := dombatch.Summarize(results); sum.Failed > 0 {
		return fmt.Errorf("%d of %d sources failed", sum.Failed, sum.Sources)
	}
	return err
}

func printIngestResults(out io.Writer, results []dombatch.Result) {
	for _, r := range results {
		switch r.Status() {
		case dombatch.StatusError:
			fmt.Fprintf(out, "%-7s %s: %v\n", r.Status(), r.Source(), r.Err())
		default:
			fmt.Fprintf(out, "%-7s %s: %d chunks, %d stored, %d skipped\n",
				r.Status(), r.Source(), r.Chunks(), r.Stored(), r.Skipped())
		}
	}
	sum := dombatch.Summarize(results)
	fmt.Fprintf(out, "\n%d sources, %d failed, %d chunks, %d stored, %d skipped\n",
		sum.Sources, sum.Failed, sum.Chunks, sum.Stored, sum.Skipped)
}
