// Selfheald — the workflow state manager for the self-healing incident bot.
//
// It polls the ticket tracker for actionable incidents, escalates stuck
// ones, and exposes the transition engine to automation agents over MCP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marcus-qen/selfheal/internal/config"
	"github.com/marcus-qen/selfheal/internal/daemon"
	"github.com/marcus-qen/selfheal/internal/engine"
	"github.com/marcus-qen/selfheal/internal/mapper"
	"github.com/marcus-qen/selfheal/internal/mcpserver"
	"github.com/marcus-qen/selfheal/internal/metrics"
	"github.com/marcus-qen/selfheal/internal/notify"
	"github.com/marcus-qen/selfheal/internal/query"
	"github.com/marcus-qen/selfheal/internal/tracker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func buildNotifier(cfg config.NotifyConfig, logger *zap.Logger) *notify.Router {
	var routes notify.SeverityRoute
	if cfg.SlackWebhookURL != "" {
		routes.Critical = append(routes.Critical, notify.NewSlackChannel(cfg.SlackWebhookURL, cfg.SlackChannel))
	}
	if cfg.WebhookURL != "" {
		routes.Info = append(routes.Info, notify.NewWebhookChannel(cfg.WebhookURL, cfg.WebhookHeaders))
	}
	if len(routes.Critical) == 0 && len(routes.Warning) == 0 && len(routes.Info) == 0 {
		return nil
	}
	return notify.NewRouter(routes, notify.NewRateLimiter(cfg.MaxPerHour), logger)
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		tmp, _ := zap.NewProduction()
		tmp.Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	rules, err := cfg.Rules()
	if err != nil {
		logger.Fatal("invalid transition table", zap.Error(err))
	}
	statusTable, err := cfg.StatusTable()
	if err != nil {
		logger.Fatal("invalid status mapping", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcpClient := tracker.NewMCPClient(cfg.Tracker.Project, logger)
	if err := mcpClient.Connect(ctx, cfg.Tracker.Endpoint); err != nil {
		logger.Fatal("failed to connect to tracker",
			zap.String("endpoint", cfg.Tracker.Endpoint),
			zap.Error(err))
	}
	defer func() { _ = mcpClient.Close() }()

	client := tracker.WithRetry(mcpClient, cfg.RetryPolicy(), logger, metrics.RecordTrackerRetry)

	m := mapper.New(client, statusTable, logger)
	eng := engine.New(m, rules, logger)
	q := query.New(client, m, rules, logger)

	if router := buildNotifier(cfg.Notify, logger); router != nil {
		eng.AddObserver(func(rec engine.TransitionRecord) {
			msg := notify.ForTransition(rec.Key, rec.From, rec.To, rec.Trigger, rec.Timestamp)
			go router.Notify(context.Background(), msg)
		})
	}

	// Automation agents attach through the MCP surface; the daemon only
	// polls, reports, and escalates.
	d, err := daemon.New(cfg.Daemon, q, eng, nil, logger)
	if err != nil {
		logger.Fatal("failed to build daemon", zap.Error(err))
	}
	d.Start(ctx)
	defer d.Stop()

	mcpserver.Version = version
	mcpSrv := mcpserver.New(eng, q, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/mcp", mcpSrv.Handler())
	mux.Handle("/mcp/", mcpSrv.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting selfheald",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.String("project", cfg.Tracker.Project),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
