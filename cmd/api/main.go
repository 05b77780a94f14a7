package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/thread-relay/internal/api/router"
	"github.com/wolfman30/thread-relay/internal/app/bootstrap"
	appconfig "github.com/wolfman30/thread-relay/internal/config"
	"github.com/wolfman30/thread-relay/internal/events"
	"github.com/wolfman30/thread-relay/internal/http/handlers"
	"github.com/wolfman30/thread-relay/internal/observability/metrics"
	"github.com/wolfman30/thread-relay/internal/signature"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appconfig.Load()
	if err != nil {
		logging.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting thread-relay",
		"env", cfg.Env,
		"port", cfg.Port,
		"dedup_backend", cfg.DedupBackend,
		"keyword_rules", len(cfg.KeywordRules),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, relayMetrics := setupMetrics()

	chat, err := bootstrap.BuildChatClient(cfg, logger, relayMetrics)
	if err != nil {
		logger.Error("failed to build chat client", "error", err)
		os.Exit(1)
	}
	botUserID := bootstrap.ResolveBotUserID(ctx, cfg, chat, logger)

	dedupBackend, err := bootstrap.BuildDedupStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build dedup store", "error", err)
		os.Exit(1)
	}
	defer dedupBackend.Close()
	go dedupBackend.Run(ctx)

	pool, err := bootstrap.BuildPool(cfg, dedupBackend.Store, chat, botUserID, logger, relayMetrics)
	if err != nil {
		logger.Error("failed to build dispatcher", "error", err)
		os.Exit(1)
	}
	pool.Start()

	eventsHandler := handlers.NewSlackEventsHandler(
		signature.NewVerifier(cfg.SigningSecret, cfg.SignatureMaxSkew),
		pool,
		events.Filter{BotUserID: botUserID, ThreadReplies: cfg.ThreadRepliesEnabled},
		logger,
		relayMetrics,
	)

	r := router.New(&router.Config{
		Logger:         logger,
		SlackEvents:    eventsHandler,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// in-flight events get the rest of the shutdown budget
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatch workers did not drain", "error", err)
	}

	logger.Info("server stopped")
}

// setupMetrics builds a private registry with runtime collectors and the relay counters.
func setupMetrics() (http.Handler, *metrics.RelayMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics := metrics.NewRelayMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), relayMetrics
}
