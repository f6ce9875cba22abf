package sched

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"billing-service/internal/config"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/infra/metrics"
	"billing-service/internal/usecase"
)

// Job names accepted by cmd/worker -job.
const (
	JobMatchSucceeded      = "match-succeeded"
	JobMatchPending        = "match-pending"
	JobExpirePayments      = "expire-payments"
	JobAutopayments        = "autopayments"
	JobExpireSubscriptions = "expire-subscriptions"
)

var JobNames = []string{JobMatchSucceeded, JobMatchPending, JobExpirePayments, JobAutopayments, JobExpireSubscriptions}

// Deps are the use cases the periodic jobs drive.
// Each matcher job gets its own ReconcileUseCase sized by that job's config.
type Deps struct {
	MatchSucceeded usecase.ReconcileUseCase
	MatchPending   usecase.ReconcileUseCase
	ExpirePayments usecase.ReconcileUseCase
	Renewal        usecase.RenewalUseCase
	Subscriptions  usecase.SubscriptionUseCase
	Locker         adapter.Locker // optional
}

// NewJobs builds the five billing workers from config.
func NewJobs(cfg config.WorkersConfig, d Deps, logger *zerolog.Logger) []*JobWorker {
	grace, batch := cfg.GracePeriod, cfg.ExpireSubscriptions.BatchSize
	expireSubs := func(ctx context.Context) (usecase.Report, error) {
		rep, err := d.Subscriptions.ExpireDue(ctx, grace, batch)
		metrics.IncSubscriptionsExpired(rep.Expired)
		return rep, err
	}
	return []*JobWorker{
		NewJobWorker(JobMatchSucceeded, cfg.MatchSucceeded, d.MatchSucceeded.MatchSucceeded, d.Locker, logger),
		NewJobWorker(JobMatchPending, cfg.MatchPending, d.MatchPending.MatchPending, d.Locker, logger),
		NewJobWorker(JobExpirePayments, cfg.ExpirePayments, d.ExpirePayments.ExpireStale, d.Locker, logger),
		NewJobWorker(JobAutopayments, cfg.Autopayments, d.Renewal.RenewDue, d.Locker, logger),
		NewJobWorker(JobExpireSubscriptions, cfg.ExpireSubscriptions, expireSubs, d.Locker, logger),
	}
}

// Find returns the job called name.
func Find(jobs []*JobWorker, name string) (*JobWorker, error) {
	for _, j := range jobs {
		if j.Name() == name {
			return j, nil
		}
	}
	return nil, fmt.Errorf("unknown job %q (known: %v)", name, JobNames)
}
