package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Runner is a long-running loop that returns when ctx is cancelled.
// sched.JobWorker implements it.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler starts a set of runners and stops them together.
type Scheduler struct {
	runners []Runner
	log     *zerolog.Logger

	cancel context.CancelFunc
	wg     *conc.WaitGroup
}

func NewScheduler(logger *zerolog.Logger, runners ...Runner) *Scheduler {
	l := logger.With().Str("component", "Scheduler").Logger()
	return &Scheduler{runners: runners, log: &l}
}

// Start launches every runner in its own goroutine. Calling Start twice has no effect.
// A panicking runner is recovered and reported by Stop.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel
	s.wg = conc.NewWaitGroup()

	for _, r := range s.runners {
		s.wg.Go(func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Err(err).Str("runner", r.Name()).Msg("runner stopped with error")
			}
		})
	}
	s.log.Info().Int("runners", len(s.runners)).Msg("scheduler started")
}

// Stop cancels all runners and waits for them to return. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	if r := s.wg.WaitAndRecover(); r != nil {
		s.log.Error().Str("panic", r.String()).Msg("runner panicked")
	}
	s.cancel = nil
	s.wg = nil
	s.log.Info().Msg("scheduler stopped")
}
