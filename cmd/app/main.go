// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"billing-service/internal/application"
	"billing-service/internal/config"
	"billing-service/internal/infra/api"
	"billing-service/internal/infra/logging"
	"billing-service/internal/infra/metrics"
	"billing-service/internal/infra/scheduler"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	c, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer c.Close()

	handler, err := c.Server.Handler(cfg.HTTP, cfg.Metrics, cfg.Runtime.Dev)
	if err != nil {
		logger.Fatal().Err(err).Msg("http handler")
	}
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go serve(srv, "api", logger)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: api.MetricsHandler(), ReadTimeout: 5 * time.Second}
		go serve(metricsSrv, "metrics", logger)
	}

	runners := make([]scheduler.Runner, 0, len(c.Jobs))
	for _, j := range c.Jobs {
		runners = append(runners, j)
	}
	sch := scheduler.NewScheduler(logger, runners...)
	sch.Start(ctx)

	go reportPoolStats(ctx, c)

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	sch.Stop()
}

func serve(srv *http.Server, name string, logger *zerolog.Logger) {
	logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Str("server", name).Msg("http server error")
	}
}

func reportPoolStats(ctx context.Context, c *application.Container) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := c.DB.Stat()
			metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
		}
	}
}
