// Command dmap inspects and verifies a domain-map dataset on disk.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tsawler/go-domainmaps/config"
	"github.com/tsawler/go-domainmaps/metrics"
	"github.com/tsawler/go-domainmaps/vision/dataset"
)

// cliContext is shared by every subcommand of one root command.
type cliContext struct {
	v          *viper.Viper
	configPath string
	stderr     io.Writer
	logger     *slog.Logger
	registry   *prometheus.Registry
}

func newRootCommand() *cobra.Command {
	ctx := &cliContext{
		v:        viper.New(),
		registry: prometheus.NewRegistry(),
	}

	rootCmd := &cobra.Command{
		Use:          "dmap",
		Short:        "Inspect domain-map datasets",
		Long:         "dmap indexes an images/<class>/ tree and resolves each image to its domain map under domain-maps/<base-net>/.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx.stderr = cmd.ErrOrStderr()
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "path to a YAML config file")
	if err := config.BindFlags(ctx.v, rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		classesCommand(ctx),
		catalogCommand(ctx),
		resolveCommand(ctx),
		verifyCommand(ctx),
		statsCommand(ctx),
	)
	return rootCmd
}

// loadConfig merges file, environment and flags, then builds the logger from
// the merged debug setting. It only checks that a root is set.
func (c *cliContext) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return nil, err
	}
	c.logger = newLogger(c.stderr, cfg.Debug)
	if cfg.Root == "" {
		return nil, errors.New("no dataset root given; use --root or DOMAINMAPS_ROOT")
	}
	return cfg, nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (c *cliContext) imagesDir(cfg *config.Config) string {
	return filepath.Join(cfg.Root, dataset.ImagesDirName)
}

// openDataset builds the full dataset with metrics recorded on the context registry.
func (c *cliContext) openDataset() (*dataset.DomainMapDataset, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options(c.logger)
	if err != nil {
		return nil, err
	}
	recorder, err := metrics.NewRecorder(c.registry)
	if err != nil {
		return nil, err
	}
	opts.Metrics = recorder
	return dataset.New(cfg.Root, cfg.BaseNet, opts)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
