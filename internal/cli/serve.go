package cli

import (
	"context"
	"fmt"
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

	"github.com/lazypower/retain/internal/config"
	"github.com/lazypower/retain/internal/engine"
	"github.com/lazypower/retain/internal/logging"
	"github.com/lazypower/retain/internal/metrics"
	"github.com/lazypower/retain/internal/server"
)

func newServeCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	rc, err := cfg.RetentionConfig()
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg.Tracker)
	if err != nil {
		return err
	}
	defer b.close()

	opts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithConcurrency(cfg.Ranking.Concurrency),
		engine.WithReinforceTimeout(cfg.Ranking.ReinforceTimeout),
	}
	srvOpts := server.Options{
		Version:   VersionString(),
		Backend:   b.name,
		Ping:      b.ping,
		Reinforce: cfg.Ranking.ReinforceOnReturn,
		Sweep:     cfg.SweepThresholds(),
		Logger:    logger.Named("http"),
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, engine.WithMetrics(metrics.New(reg)))
		srvOpts.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		srvOpts.MetricsPath = cfg.Metrics.Path
	}

	p, err := engine.New(rc, b.tracker, opts...)
	if err != nil {
		return err
	}

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.New(p, srvOpts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	errCh := make(chan error, 1)
	go func() {
		params := rc.Params()
		logger.Info("retain serving",
			zap.String("addr", addr),
			zap.String("tracker", b.name),
			zap.String("tracker_at", b.where),
			zap.Float64("decay_rate", params.DecayRate),
			zap.Float64("reinforcement_factor", params.ReinforcementFactor),
			zap.Bool("reinforce_on_return", cfg.Ranking.ReinforceOnReturn),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-done:
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}
