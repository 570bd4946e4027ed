package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/qcache/pkg/analyzer"
	"github.com/pario-ai/qcache/pkg/cache"
	"github.com/pario-ai/qcache/pkg/config"
	"github.com/pario-ai/qcache/pkg/logging"
	"github.com/pario-ai/qcache/pkg/metrics"
	"github.com/pario-ai/qcache/pkg/template"
)

var version = "dev"

const defaultConfigPath = "qcache.yaml"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "qcache",
		Short:         "qcache: query result cache, templates and usage analytics",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")

	load := func(cmd *cobra.Command) (*runtime, error) {
		return newRuntime(configPath, cmd.Flags().Changed("config"))
	}

	root.AddCommand(
		newCacheCmd(load),
		newTemplatesCmd(load),
		newAnalyzeCmd(load),
		newMCPCmd(load),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loader builds the runtime for a subcommand.
type loader func(cmd *cobra.Command) (*runtime, error)

// runtime carries the configuration and ambient services shared by
// subcommands.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// newRuntime loads the config file at path. A missing default config file is
// not an error: defaults are used instead. An explicitly requested file must
// exist.
func newRuntime(path string, explicit bool) (*runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
		if err := cfg.Resolve(); err != nil {
			return nil, err
		}
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, metrics: metrics.New(nil)}, nil
}

func (r *runtime) openCache() (*cache.Cache, error) {
	c, err := cache.New(r.cfg.Cache, cache.WithLogger(r.logger.Named("cache")), cache.WithMetrics(r.metrics))
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return c, nil
}

func (r *runtime) openAnalyzer() (*analyzer.Analyzer, error) {
	a, err := analyzer.New(r.cfg.Analyzer, analyzer.WithLogger(r.logger.Named("analyzer")), analyzer.WithMetrics(r.metrics))
	if err != nil {
		return nil, fmt.Errorf("init analyzer: %w", err)
	}
	return a, nil
}

func (r *runtime) openRegistry() *template.Registry {
	return template.NewRegistry(r.cfg.Templates.Path,
		template.WithLogger(r.logger.Named("templates")), template.WithMetrics(r.metrics))
}

func (r *runtime) close() {
	_ = r.logger.Sync()
}
