package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/qcache/pkg/mcp"
	"github.com/pario-ai/qcache/pkg/metrics"
)

func newMCPCmd(load loader) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve cache, template and analytics tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			if metricsAddr == "" {
				metricsAddr = rt.cfg.Metrics.Listen
			}
			reg := prometheus.NewRegistry()
			if metricsAddr != "" {
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				rt.metrics = metrics.New(reg)
			}

			c, err := rt.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			a, err := rt.openAnalyzer()
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			templates := rt.openRegistry()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if rt.cfg.Templates.Watch {
				if err := templates.Watch(ctx); err != nil {
					rt.logger.Warn("template watch disabled", zap.Error(err))
				}
			}

			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, reg, rt.logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			rt.logger.Info("starting mcp server", zap.String("version", version), zap.String("cache_dir", rt.cfg.Cache.Dir))
			srv := mcp.New(c, a, templates, version, mcp.WithLogger(rt.logger.Named("mcp")))
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	return cmd
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
