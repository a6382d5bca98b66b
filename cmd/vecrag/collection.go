package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/vecrag/internal/app"
	"github.com/kailas-cloud/vecrag/internal/domain"
)

func newCollectionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Manage the collections of the configured providers",
		Long: `Every provider in the embedding chain writes to its own collection: the
primary uses store.collection and each fallback uses <collection>__<provider>.
These commands act on all of them.`,
	}

	var recreate bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create missing collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.EnsureCollections(ctx, recreate); err != nil {
					return err
				}
				return printCollections(ctx, cmd.OutOrStdout(), a)
			})
		},
	}
	create.Flags().BoolVar(&recreate, "recreate", false, "Drop existing collections first")

	info := &cobra.Command{
		Use:   "info",
		Short: "Show collection sizes and point counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printCollections(ctx, cmd.OutOrStdout(), a)
			})
		},
	}

	drop := &cobra.Command{
		Use:   "drop",
		Short: "Delete the collections and all stored vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				for _, b := range a.Embedding.Bindings() {
					err := a.Store.DropCollection(ctx, b.Collection)
					if err != nil && !errors.Is(err, domain.ErrCollectionNotFound) {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", b.Collection)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(create, info, drop)
	return cmd
}

func (c *cli) withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, log, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer a.Close()
	return fn(ctx, a)
}

func printCollections(ctx context.Context, out io.Writer, a *app.App) error {
	for _, b := range a.Embedding.Bindings() {
		info, err := a.Store.CollectionInfo(ctx, b.Collection)
		if errors.Is(err, domain.ErrCollectionNotFound) {
			fmt.Fprintf(out, "%-32s missing  (%s %s, %d dims)\n", b.Collection, b.Kind, b.Model, b.Dimensions)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-32s %-8s %d dims, %s, %d points  (%s %s)\n",
			info.Name, statusOrOK(info.Status), info.Dimensions, info.Distance, info.PointsCount, b.Kind, b.Model)
	}
	return nil
}

func statusOrOK(s string) string {
	if s == "" {
		return "ok"
	}
	return s
}
