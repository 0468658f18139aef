// Warden - admission-controlled job execution daemon
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warden/warden/internal/admission"
	"github.com/warden/warden/internal/api"
	"github.com/warden/warden/internal/approval"
	"github.com/warden/warden/internal/blobstore"
	"github.com/warden/warden/internal/breaker"
	"github.com/warden/warden/internal/config"
	"github.com/warden/warden/internal/events"
	"github.com/warden/warden/internal/metrics"
	"github.com/warden/warden/internal/monitor"
	"github.com/warden/warden/internal/notify"
	"github.com/warden/warden/internal/policy"
	"github.com/warden/warden/internal/queue"
	"github.com/warden/warden/internal/rollout"
	"github.com/warden/warden/internal/storage"
	"github.com/warden/warden/internal/worker"
	"github.com/warden/warden/pkg/clock"
	"github.com/warden/warden/pkg/executor"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "warden.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Warden %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("Starting Warden")

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("Warden exited with error")
	}
	logger.Info().Msg("Warden stopped")
}

func run(cfg *config.Config, configPath string, logger zerolog.Logger) error {
	clk := clock.New()
	bus := events.NewBus()

	// Storage backend
	var store storage.Store
	switch cfg.Storage.Backend {
	case "memory":
		store = storage.NewMemoryStore()
	default:
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		bs, err := storage.NewBadgerStore(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("open badger store: %w", err)
		}
		defer bs.Close()
		store = bs
	}

	// Queue
	q, err := queue.New(store, queue.Config{
		Capacity:         cfg.Queue.Capacity,
		HighWaterPercent: cfg.Queue.HighWaterPercent,
		Retention:        time.Duration(cfg.Queue.Retention),
		FailureWindow:    time.Duration(cfg.Queue.FailureWindow),
		MaxReasonLen:     cfg.Queue.MaxReasonLen,
	}, clk, bus, logger)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	// Policy engine and rollout router
	engine, err := policy.NewEngine(cfg.PolicyRules(), cfg.Policy.Overrides, &policy.Config{
		DefaultAction: cfg.Policy.DefaultAction,
		DefaultRisk:   policy.RiskLow,
	}, clk)
	if err != nil {
		return fmt.Errorf("create policy engine: %w", err)
	}
	router := rollout.New(cfg.Rollout.Targets)

	// Circuit breakers
	breakers := breaker.NewRegistry(&breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         time.Duration(cfg.Breaker.Cooldown),
		OnStateChange: func(target string, from, to breaker.State) {
			logger.Warn().
				Str("target", target).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit state changed")
		},
	}, clk)

	// Approval channel
	var channel approval.Channel
	var approvalAdmin api.ApprovalAdmin
	if cfg.Approval.Channel == "webhook" {
		channel = approval.NewWebhookChannel(cfg.Approval.BaseURL, cfg.Approval.Headers)
	} else {
		mem := approval.NewMemoryChannel()
		channel = mem
		approvalAdmin = mem
	}

	// Execution backends
	registry := executor.NewRegistry()
	for name, ec := range cfg.Executors {
		registry.Register(name, executor.NewHTTP(name, executor.HTTPConfig{
			URL:             ec.URL,
			Headers:         ec.Headers,
			Timeout:         time.Duration(ec.Timeout),
			MaxResponseSize: ec.MaxResponseSize,
		}))
		logger.Info().Str("entrypoint", name).Str("url", ec.URL).Msg("registered executor")
	}

	// Alert sinks
	var sinks notify.Multi
	if cfg.Notify.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.Notify.SlackWebhookURL, cfg.Notify.SlackChannel))
	}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.WebhookHeaders))
	}

	// Pipeline components
	gate := admission.New(engine, router, q, channel, cfg.Queue.DefaultAttempts, logger)
	w := worker.New(worker.Config{
		PollInterval: time.Duration(cfg.Worker.PollInterval),
		ExecTimeout:  time.Duration(cfg.Worker.ExecTimeout),
		InlineLimit:  cfg.Worker.InlineLimit,
	}, q, breakers, registry, channel, blobstore.New(store), bus, clk, logger)

	mon, err := monitor.New(monitor.Config{
		Interval:             time.Duration(cfg.Monitor.Interval),
		WarnCooldown:         time.Duration(cfg.Monitor.WarnCooldown),
		CriticalCooldown:     time.Duration(cfg.Monitor.CriticalCooldown),
		NotifyRecovery:       cfg.Monitor.NotifyRecovery,
		UtilizationWarn:      cfg.Monitor.UtilizationWarn,
		OpenBreakersCritical: cfg.Monitor.OpenBreakersCritical,
		RecentFailuresWarn:   cfg.Monitor.RecentFailuresWarn,
	}, q, breakers, sinks, store, clk, logger)
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}

	// Metrics
	routerCfg := api.RouterConfig{}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(q, breakers, w))
		routerCfg.Metrics = metrics.New(reg)
		routerCfg.MetricsHandler = metrics.Handler(reg)
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	// HTTP API
	handler := api.NewHandler(gate, q, breakers, mon, w, approvalAdmin, logger)
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewRouterWithConfig(handler, logger, routerCfg),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// Hot reload of policy rules and rollout targets
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		if err := engine.Reload(next.PolicyRules(), next.Policy.Overrides); err != nil {
			logger.Error().Err(err).Msg("policy reload failed, keeping previous rules")
			return
		}
		router.Reload(next.Rollout.Targets)
		logger.Info().
			Int("rules", len(next.PolicyRules())).
			Int("rollout_targets", len(next.Rollout.Targets)).
			Msg("admission configuration reloaded")
	}, logger)
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(w.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(mon.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(watcher.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(sweepLoop(ctx, q, clk, logger)) })

	g.Go(func() error {
		logger.Info().Str("address", cfg.Server.Address).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// sweepLoop removes terminal jobs past retention once an hour.
func sweepLoop(ctx context.Context, q *queue.Queue, clk clock.Clock, logger zerolog.Logger) error {
	ticker := clk.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			removed, err := q.Sweep()
			if err != nil {
				logger.Error().Err(err).Msg("queue sweep failed")
				continue
			}
			if removed > 0 {
				logger.Info().Int("removed", removed).Msg("queue sweep")
			}
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out zerolog.Logger
	if cfg.Format == "console" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		out = zerolog.New(os.Stdout)
	}
	return out.With().Timestamp().Logger()
}
