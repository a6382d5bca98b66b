package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/transport/fswatch"
)

func newWatchCmd(c *cli) *cobra.Command {
	var initial bool
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Keep the store in sync with directories",
		Long: `Watch directories recursively. Created or modified files are re-ingested and
removed files have their chunks deleted. Events for the same path are
debounced by ingest.debounce_ms.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.watch(cmd.Context(), args, initial)
		},
	}
	cmd.Flags().BoolVar(&initial, "initial", true, "Ingest the directories once before watching")
	return cmd
}

func (c *cli) watch(ctx context.Context, dirs []string, initial bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, log, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer a.Close()

	if err := a.EnsureCollections(ctx, false); err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}
	if initial {
		if _, err := a.Ingest.IngestFiles(ctx, dirs); err != nil {
			return err
		}
	}

	w := fswatch.New(a.Ingest, a.Ingest.Loader(),
		fswatch.WithDebounce(time.Duration(a.Config.Ingest.DebounceMs)*time.Millisecond),
		fswatch.WithLogger(log),
	)
	err = w.Run(ctx, dirs)
	log.Info("Watcher stopped", zap.Error(err))
	return err
}
