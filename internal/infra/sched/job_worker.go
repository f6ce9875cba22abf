package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"billing-service/internal/config"
	"billing-service/internal/domain"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/infra/logging"
	"billing-service/internal/infra/metrics"
	"billing-service/internal/usecase"
)

// PassFunc runs one pass of a periodic job.
type PassFunc func(ctx context.Context) (usecase.Report, error)

// JobWorker runs a pass on startup and then on every tick. Passes never
// overlap inside one process; with a locker they also do not overlap across
// replicas.
type JobWorker struct {
	name       string
	interval   time.Duration
	runTimeout time.Duration
	pass       PassFunc
	locker     adapter.Locker // optional
	log        *zerolog.Logger
}

func NewJobWorker(name string, cfg config.JobConfig, pass PassFunc, locker adapter.Locker, logger *zerolog.Logger) *JobWorker {
	compLog := logger.With().Str("component", "JobWorker").Str("job", name).Logger()
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &JobWorker{
		name:       name,
		interval:   interval,
		runTimeout: cfg.RunTimeout,
		pass:       pass,
		locker:     locker,
		log:        &compLog,
	}
}

func (w *JobWorker) Name() string { return w.name }

func (w *JobWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting job worker")
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping job worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single bounded pass and records its outcome.
func (w *JobWorker) RunOnce(ctx context.Context) (usecase.Report, error) {
	ctx = logging.WithJob(logging.WithTraceID(ctx, logging.NewTraceID()), w.name)
	log := logging.With(ctx, w.log)

	if w.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.runTimeout)
		defer cancel()
	}

	if w.locker != nil {
		key := "job:" + w.name
		ttl := w.runTimeout
		if ttl <= 0 {
			ttl = w.interval
		}
		token, err := w.locker.TryLock(ctx, key, ttl)
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired):
			log.Debug().Msg("pass skipped, another replica holds the lock")
			return usecase.Report{}, nil
		case err != nil:
			// redis trouble should not stop reconciliation; passes are idempotent
			log.Warn().Err(err).Msg("job lock unavailable, running unguarded")
		default:
			defer func() {
				if err := w.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn().Err(err).Msg("job unlock failed")
				}
			}()
		}
	}

	start := time.Now()
	rep, err := w.pass(ctx)
	elapsed := time.Since(start)
	metrics.ObserveJobRun(w.name, elapsed, err, rep.Checked, rep.Applied, rep.Expired, rep.Failed)

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	} else if rep == (usecase.Report{}) {
		ev = log.Debug()
	}
	ev.Int("checked", rep.Checked).
		Int("applied", rep.Applied).
		Int("expired", rep.Expired).
		Int("failed", rep.Failed).
		Dur("duration", elapsed).
		Msg("pass finished")
	return rep, err
}
