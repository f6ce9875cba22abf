// File: cmd/worker/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"billing-service/internal/application"
	"billing-service/internal/config"
	"billing-service/internal/infra/logging"
	"billing-service/internal/infra/metrics"
	"billing-service/internal/infra/sched"
)

// cmd/worker runs one billing job pass and exits, for cron-style deployments.
// With -loop it keeps running the job on its configured interval instead.
func main() {
	job := flag.String("job", "", "job to run: "+strings.Join(sched.JobNames, ", "))
	loop := flag.Bool("loop", false, "run on the configured interval until stopped")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer c.Close()

	w, err := sched.Find(c.Jobs, *job)
	if err != nil {
		logger.Fatal().Err(err).Msg("select job")
	}

	if *loop {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Str("job", w.Name()).Msg("job loop stopped")
		}
		return
	}

	rep, err := w.RunOnce(ctx)
	if err != nil {
		logger.Error().Err(err).Str("job", w.Name()).Msg("job failed")
		c.Close()
		os.Exit(1)
	}
	logger.Info().Str("job", w.Name()).
		Int("checked", rep.Checked).Int("applied", rep.Applied).
		Int("expired", rep.Expired).Int("failed", rep.Failed).
		Msg("job done")
}
