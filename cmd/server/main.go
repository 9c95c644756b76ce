package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ronaldopdias/revivatech-realtime/internal/adapter/httpserver"
	"github.com/ronaldopdias/revivatech-realtime/internal/adapter/metrics"
	"github.com/ronaldopdias/revivatech-realtime/internal/app"
	"github.com/ronaldopdias/revivatech-realtime/internal/mailqueue"
	"github.com/ronaldopdias/revivatech-realtime/internal/platform/config"
	"github.com/ronaldopdias/revivatech-realtime/internal/platform/logging"
	"github.com/ronaldopdias/revivatech-realtime/internal/platform/token"
	"github.com/ronaldopdias/revivatech-realtime/internal/realtime"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupMailQueue(cfg *config.Config, clock clockwork.Clock, queueMetrics *metrics.MailQueueMetrics) *mailqueue.Queue {
	renderer, err := mailqueue.NewTemplateRenderer(mailqueue.DefaultTemplates())
	if err != nil {
		slog.Error("Failed to build email templates", "error", err)
		os.Exit(1)
	}

	sender := mailqueue.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	return mailqueue.NewQueue(renderer, sender, cfg.EmailRetryBaseDelay, clock, queueMetrics)
}

func runGracefulShutdown(srv *httpserver.Server, hub *realtime.Hub, queue *mailqueue.Queue) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		hub.Stop()
		queue.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	registry := metrics.NewRegistry()
	hubMetrics := metrics.NewRealtimeMetrics(registry)
	queueMetrics := metrics.NewMailQueueMetrics(registry)

	hub := realtime.NewHub(clock, cfg.MaxConnectionsPerUser, hubMetrics)
	queue := setupMailQueue(cfg, clock, queueMetrics)
	service := app.NewService(hub, queue)

	tokens := token.NewManager(cfg.TokenSecret, cfg.TokenTTL)

	checkOrigin := realtime.NewCheckOrigin(cfg.AppURL, cfg.AppEnv == "development")
	wsHandler := realtime.NewHandler(hub, tokens, checkOrigin, hubMetrics)

	healthChecks := []httpserver.HealthCheck{
		{Name: "hub", Check: func(context.Context) error { return hub.Healthy() }},
	}

	srv := httpserver.NewServer(cfg, service, tokens, wsHandler, metrics.Handler(registry), healthChecks)

	done := runGracefulShutdown(srv, hub, queue)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
