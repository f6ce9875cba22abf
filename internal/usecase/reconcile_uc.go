// File: internal/usecase/reconcile_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/domain/ports/repository"
	"billing-service/internal/infra/logging"
	"billing-service/internal/infra/metrics"
	"billing-service/internal/infra/worker"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileConfig holds the matching windows and thresholds.
type ReconcileConfig struct {
	// SuccessWindow is the trailing window of the successful-payment matcher.
	SuccessWindow time.Duration
	// PendingLookback is the trailing window of the pending and expired
	// matchers. It must be longer than WaitingDays to ever expire anything.
	// PENDING payments older than the window are looked up one by one.
	PendingLookback time.Duration
	// WaitingDays is how long a PENDING payment may wait before it expires.
	WaitingDays int
	// PageSize is the provider listing page size.
	PageSize int
}

func (c *ReconcileConfig) normalize() {
	if c.SuccessWindow <= 0 {
		c.SuccessWindow = time.Hour
	}
	if c.WaitingDays <= 0 {
		c.WaitingDays = 7
	}
	if c.PendingLookback <= 0 {
		c.PendingLookback = 30 * 24 * time.Hour
	}
	if floor := time.Duration(c.WaitingDays+1) * 24 * time.Hour; c.PendingLookback < floor {
		c.PendingLookback = floor
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
}

// ReconcileUseCase diffs provider-side payment sets against local ones for a
// single provider and corrects local drift.
type ReconcileUseCase interface {
	// MatchSucceeded settles provider-succeeded payments in the success window
	// that are not SUCCEEDED locally (P - L).
	MatchSucceeded(ctx context.Context) (Report, error)
	// MatchPending promotes local PENDING payments the provider reports as
	// succeeded (P ∩ L_pending) and expires the rest once they are old enough.
	MatchPending(ctx context.Context) (Report, error)
	// ExpireStale expires old local PENDING payments the provider does not
	// report as succeeded.
	ExpireStale(ctx context.Context) (Report, error)
}

type reconcileUC struct {
	gateway    adapter.PaymentGateway
	providerID int64
	payments   repository.PaymentRepository
	settlement SettlementUseCase
	pool       *worker.Pool
	cfg        ReconcileConfig
	log        *zerolog.Logger
	opts       options
}

func NewReconcileUseCase(
	gateway adapter.PaymentGateway,
	providerID int64,
	payments repository.PaymentRepository,
	settlement SettlementUseCase,
	pool *worker.Pool,
	cfg ReconcileConfig,
	logger *zerolog.Logger,
	opts ...Option,
) *reconcileUC {
	cfg.normalize()
	l := logger.With().Str("component", "ReconcileUC").Str("provider", gateway.Name()).Logger()
	return &reconcileUC{
		gateway:    gateway,
		providerID: providerID,
		payments:   payments,
		settlement: settlement,
		pool:       pool,
		cfg:        cfg,
		log:        &l,
		opts:       buildOptions(opts),
	}
}

func (u *reconcileUC) MatchSucceeded(ctx context.Context) (Report, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.MatchSucceeded")()
	now := u.opts.now()
	from := now.Add(-u.cfg.SuccessWindow)

	remote, err := u.providerSucceeded(ctx, from, now)
	if err != nil {
		return Report{}, err
	}
	local, err := u.payments.ListExternalIDs(ctx, repository.NoTX, repository.PaymentFilter{
		// refunded payments stay "succeeded" at the provider
		Statuses:    []model.PaymentStatus{model.PaymentStatusSucceeded, model.PaymentStatusRefunded},
		ProviderID:  u.providerID,
		CreatedFrom: from,
		CreatedTo:   now,
	})
	if err != nil {
		return Report{}, fmt.Errorf("list local succeeded: %w", err)
	}

	missing, _ := lo.Difference(remote, local)
	u.log.Info().Int("provider", len(remote)).Int("local", len(local)).Int("missing", len(missing)).Msg("successful payments diffed")
	return u.settleAll(ctx, missing, "match_succeeded"), nil
}

func (u *reconcileUC) MatchPending(ctx context.Context) (Report, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.MatchPending")()
	now := u.opts.now()
	remote, pending, err := u.pendingSets(ctx, now)
	if err != nil {
		return Report{}, err
	}

	pendingIDs := lo.FilterMap(pending, func(p *model.Payment, _ int) (string, bool) {
		return p.External(), p.External() != ""
	})
	promote := lo.Intersect(remote, pendingIDs)
	u.log.Info().Int("provider", len(remote)).Int("pending", len(pending)).Int("promote", len(promote)).Msg("pending payments diffed")

	rep := u.settleAll(ctx, promote, "match_pending")
	rep.add(u.expireAll(ctx, remote, pending, now))
	rep.add(u.resolveOverdue(ctx, now))
	return rep, nil
}

func (u *reconcileUC) ExpireStale(ctx context.Context) (Report, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.ExpireStale")()
	now := u.opts.now()
	remote, pending, err := u.pendingSets(ctx, now)
	if err != nil {
		return Report{}, err
	}
	rep := u.expireAll(ctx, remote, pending, now)
	rep.add(u.resolveOverdue(ctx, now))
	return rep, nil
}

// pendingSets loads the provider succeeded ids and the local PENDING payments
// over the same lookback window.
func (u *reconcileUC) pendingSets(ctx context.Context, now time.Time) ([]string, []*model.Payment, error) {
	from := now.Add(-u.cfg.PendingLookback)
	remote, err := u.providerSucceeded(ctx, from, now)
	if err != nil {
		return nil, nil, err
	}
	pending, err := u.payments.List(ctx, repository.NoTX, repository.PaymentFilter{
		Statuses:    []model.PaymentStatus{model.PaymentStatusPending},
		ProviderID:  u.providerID,
		CreatedFrom: from,
		CreatedTo:   now,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list local pending: %w", err)
	}
	return remote, pending, nil
}

// resolveOverdue handles PENDING payments created before the lookback window.
// The listing diff never sees them, so each one is looked up at the provider:
// a success is settled, anything else expires.
func (u *reconcileUC) resolveOverdue(ctx context.Context, now time.Time) Report {
	overdue, err := u.payments.List(ctx, repository.NoTX, repository.PaymentFilter{
		Statuses:   []model.PaymentStatus{model.PaymentStatusPending},
		ProviderID: u.providerID,
		CreatedTo:  now.Add(-u.cfg.PendingLookback),
	})
	if err != nil {
		u.log.Error().Err(err).Str("op", "resolve_overdue").Msg("list overdue pending failed")
		return Report{Failed: 1}
	}
	if len(overdue) == 0 {
		return Report{}
	}
	u.log.Info().Int("overdue", len(overdue)).Msg("pending payments past the lookback window")

	var applied, expired, failed, started atomic.Int64
	worker.Each(ctx, u.pool, overdue, func(ctx context.Context, p *model.Payment) error {
		started.Add(1)
		err := u.resolveOne(ctx, p, &applied, &expired)
		if err != nil {
			failed.Add(1)
			u.log.Error().Err(err).Int64("local_payment_id", p.ID).Str("payment_id", p.External()).Str("op", "resolve_overdue").Msg("reconcile item failed")
		}
		return err
	})
	return Report{
		Checked: len(overdue),
		Applied: int(applied.Load()),
		Expired: int(expired.Load()),
		Failed:  int(failed.Load()) + notStarted(len(overdue), &started),
	}
}

func (u *reconcileUC) resolveOne(ctx context.Context, p *model.Payment, applied, expired *atomic.Int64) error {
	if p.External() != "" {
		pp, err := u.gateway.GetPayment(ctx, p.External())
		switch {
		case err == nil && pp.Status == model.PaymentStatusSucceeded:
			outcome, err := u.settlement.ApplySucceeded(ctx, pp, SettleOptions{AllowCreate: true, Source: SourceMatcher})
			if err != nil {
				return err
			}
			if outcome == SettleApplied {
				applied.Add(1)
			}
			return nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}
	changed, err := u.expireOne(ctx, p)
	if changed {
		expired.Add(1)
	}
	return err
}

// providerSucceeded walks the provider listing lazily and keeps only ids.
func (u *reconcileUC) providerSucceeded(ctx context.Context, from, to time.Time) ([]string, error) {
	var ids []string
	seq := u.gateway.ListPayments(ctx, adapter.ListParams{
		Status:     model.PaymentStatusSucceeded,
		CreatedGTE: from,
		CreatedLT:  to,
		Limit:      u.cfg.PageSize,
	})
	for pp, err := range seq {
		if err != nil {
			return nil, fmt.Errorf("list provider succeeded: %w", err)
		}
		ids = append(ids, pp.ID)
	}
	return lo.Uniq(ids), nil
}

// settleAll fetches each provider payment and runs the shared success path.
func (u *reconcileUC) settleAll(ctx context.Context, ids []string, op string) Report {
	var applied, failed, started atomic.Int64
	worker.Each(ctx, u.pool, ids, func(ctx context.Context, id string) error {
		started.Add(1)
		err := u.settleOne(ctx, id, &applied)
		if err != nil {
			failed.Add(1)
			u.log.Error().Err(err).Str("payment_id", id).Str("op", op).Msg("reconcile item failed")
		}
		return err
	})
	return Report{Checked: len(ids), Applied: int(applied.Load()), Failed: int(failed.Load()) + notStarted(len(ids), &started)}
}

func (u *reconcileUC) settleOne(ctx context.Context, id string, applied *atomic.Int64) error {
	pp, err := u.gateway.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if pp.Status != model.PaymentStatusSucceeded {
		return nil
	}
	outcome, err := u.settlement.ApplySucceeded(ctx, pp, SettleOptions{AllowCreate: true, Source: SourceMatcher})
	if err != nil {
		return err
	}
	if outcome == SettleApplied {
		applied.Add(1)
	}
	return nil
}

// expireAll moves PENDING payments absent from the provider succeeded set to
// EXPIRED once they waited at least WaitingDays whole days.
func (u *reconcileUC) expireAll(ctx context.Context, remote []string, pending []*model.Payment, now time.Time) Report {
	succeeded := lo.SliceToMap(remote, func(id string) (string, struct{}) { return id, struct{}{} })
	stale := lo.Filter(pending, func(p *model.Payment, _ int) bool {
		if _, ok := succeeded[p.External()]; ok && p.External() != "" {
			return false
		}
		return u.waitedOut(p, now)
	})

	var expired, failed, started atomic.Int64
	worker.Each(ctx, u.pool, stale, func(ctx context.Context, p *model.Payment) error {
		started.Add(1)
		changed, err := u.expireOne(ctx, p)
		if err != nil {
			failed.Add(1)
			u.log.Error().Err(err).Int64("local_payment_id", p.ID).Str("payment_id", p.External()).Str("op", "expire").Msg("expire payment failed")
			return err
		}
		if changed {
			expired.Add(1)
		}
		return nil
	})
	return Report{Checked: len(stale), Expired: int(expired.Load()), Failed: int(failed.Load()) + notStarted(len(stale), &started)}
}

// expireOne moves p from PENDING to EXPIRED. A payment that left PENDING in
// the meantime is not touched.
func (u *reconcileUC) expireOne(ctx context.Context, p *model.Payment) (bool, error) {
	changed, err := u.payments.UpdateStatusIf(ctx, repository.NoTX, p.ID,
		[]model.PaymentStatus{model.PaymentStatusPending}, model.PaymentStatusExpired)
	if err != nil || !changed {
		return false, err
	}
	metrics.IncPayment(string(model.PaymentStatusExpired), SourceMatcher)
	u.log.Info().Int64("local_payment_id", p.ID).Str("payment_id", p.External()).Msg("payment expired")
	return true, nil
}

func (u *reconcileUC) waitedOut(p *model.Payment, now time.Time) bool {
	days := int(now.Sub(p.CreatedAt) / (24 * time.Hour))
	return days >= u.cfg.WaitingDays
}
