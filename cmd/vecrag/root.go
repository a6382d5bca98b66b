package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrag/internal/app"
	"github.com/kailas-cloud/vecrag/internal/config"
	logpkg "github.com/kailas-cloud/vecrag/internal/logger"
)

const rootLongDesc = `vecrag chunks documents, embeds them with a chain of embedding providers
and retrieves the most relevant chunks for a query.

Configuration is read from config/<env>.yaml (ENV, default "local") or the
file given with --config. Values of the form ${VAR:-default} are expanded
from the environment, and a .env file in the working directory is loaded
without overriding variables that are already set.`

// cli carries the persistent flags shared by every command.
type cli struct {
	configPath string
	env        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:           "vecrag",
		Short:         "Retrieval-augmented generation pipeline",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to a config file (overrides --env)")
	cmd.PersistentFlags().StringVar(&c.env, "env", config.GetEnv(), "Config environment (local, dev, prod)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(c),
		newIngestCmd(c),
		newQueryCmd(c),
		newWatchCmd(c),
		newCollectionCmd(c),
		newVersionCmd(),
	)
	return cmd
}

func (c *cli) loadConfig() (config.Config, error) {
	if c.configPath != "" {
		return config.LoadFile(c.configPath)
	}
	return config.Load(c.env)
}

// open loads the configuration and wires the pipeline.
// The caller owns both return values and must Close the app and Sync the logger.
func (c *cli) open(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if c.logLevel != "" {
		level = c.logLevel
	}
	log, err := logpkg.NewLogger(c.env, level)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return a, log, nil
}
