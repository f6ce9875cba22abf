// File: internal/usecase/renewal_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/domain/ports/repository"
	"billing-service/internal/infra/logging"
	"billing-service/internal/infra/metrics"
	"billing-service/internal/infra/worker"
)

// Compile-time check
var _ RenewalUseCase = (*renewalUC)(nil)

const renewalDescription = "Auto-renewal of subscription"

type renewalOutcome int

const (
	renewalSkipped renewalOutcome = iota
	renewalRenewed
	renewalPending
	renewalDeclined
)

func (o renewalOutcome) String() string {
	switch o {
	case renewalRenewed:
		return "succeeded"
	case renewalPending:
		return "pending"
	case renewalDeclined:
		return "declined"
	}
	return "skipped"
}

// RenewalUseCase charges saved payment methods of recurring subscriptions
// that reached their end date.
type RenewalUseCase interface {
	RenewDue(ctx context.Context) (Report, error)
}

type renewalUC struct {
	gateways   adapter.GatewayRegistry
	payments   repository.PaymentRepository
	subs       repository.SubscriptionRepository
	plans      repository.PlanRepository
	settlement SettlementUseCase
	pool       *worker.Pool
	batchSize  int
	log        *zerolog.Logger
	opts       options
}

func NewRenewalUseCase(
	gateways adapter.GatewayRegistry,
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	settlement SettlementUseCase,
	pool *worker.Pool,
	batchSize int,
	logger *zerolog.Logger,
	opts ...Option,
) *renewalUC {
	if batchSize <= 0 {
		batchSize = 200
	}
	l := logger.With().Str("component", "RenewalUC").Logger()
	return &renewalUC{
		gateways:   gateways,
		payments:   payments,
		subs:       subs,
		plans:      plans,
		settlement: settlement,
		pool:       pool,
		batchSize:  batchSize,
		log:        &l,
		opts:       buildOptions(opts),
	}
}

// PaymentIdempotencyKey is the provider idempotency key of a local payment.
// Retrying a create for the same local payment never charges twice.
func PaymentIdempotencyKey(paymentID int64) string {
	return "payment-" + strconv.FormatInt(paymentID, 10)
}

func (u *renewalUC) RenewDue(ctx context.Context) (Report, error) {
	defer logging.TraceDuration(u.log, "RenewalUC.RenewDue")()
	due, err := u.subs.ListRenewalDue(ctx, repository.NoTX, u.opts.now(), u.batchSize)
	if err != nil {
		return Report{}, fmt.Errorf("list due subscriptions: %w", err)
	}

	var renewed, failed, started atomic.Int64
	worker.Each(ctx, u.pool, due, func(ctx context.Context, sub *model.Subscription) error {
		started.Add(1)
		log := u.log.With().Int64("subscription_id", sub.ID).Str("user_id", sub.UserID).Logger()
		outcome, err := u.renewOne(ctx, &log, sub)
		if err != nil {
			metrics.IncRenewal("error")
		} else {
			metrics.IncRenewal(outcome.String())
		}
		switch {
		case err != nil:
			failed.Add(1)
			log.Error().Err(err).Str("op", "renew").Msg("renewal failed")
		case outcome == renewalDeclined:
			failed.Add(1)
		case outcome == renewalRenewed:
			renewed.Add(1)
		}
		return err
	})
	return Report{Checked: len(due), Applied: int(renewed.Load()), Failed: int(failed.Load()) + notStarted(len(due), &started)}, nil
}

func (u *renewalUC) renewOne(ctx context.Context, log *zerolog.Logger, sub *model.Subscription) (renewalOutcome, error) {
	plan, err := u.plans.FindByID(ctx, repository.NoTX, sub.PlanID)
	if err != nil {
		return renewalSkipped, fmt.Errorf("plan %d: %w", sub.PlanID, err)
	}
	if !plan.IsRecurring {
		return renewalSkipped, nil
	}

	origin, err := u.payments.FindLastSucceededBySubscription(ctx, repository.NoTX, sub.ID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && origin.PaymentMethodID == nil) {
		log.Warn().Err(domain.ErrNoSavedPaymentMethod).Msg("subscription left to expire")
		return renewalSkipped, nil
	}
	if err != nil {
		return renewalSkipped, err
	}
	gw, err := u.gateways.ForProvider(ctx, origin.PaymentProviderID)
	if err != nil {
		return renewalSkipped, err
	}

	p, err := u.payments.FindLatestRenewal(ctx, repository.NoTX, sub.ID, sub.EndedAt)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if p, err = u.newRenewalPayment(ctx, sub, plan, origin); err != nil {
			return renewalSkipped, err
		}
	case err != nil:
		return renewalSkipped, err
	}

	switch p.Status {
	case model.PaymentStatusCreated:
		// fresh attempt, or one interrupted before the provider answered
	case model.PaymentStatusPending:
		if p.External() == "" {
			return renewalPending, nil
		}
		pp, err := gw.GetPayment(ctx, p.External())
		if err != nil {
			return renewalSkipped, err
		}
		return u.record(ctx, log, p, pp)
	case model.PaymentStatusCanceled:
		// one declined attempt per period; expiry takes over after the grace period
		return renewalSkipped, nil
	default:
		log.Warn().Str("status", string(p.Status)).Int64("local_payment_id", p.ID).Msg("renewal payment already final")
		return renewalSkipped, nil
	}

	// a pay-link payment may have extended the subscription since it was listed
	cur, err := u.subs.FindByID(ctx, repository.NoTX, sub.ID)
	if err != nil {
		return renewalSkipped, err
	}
	if !cur.IsDue(u.opts.now()) {
		log.Info().Time("ended_at", cur.EndedAt).Str("status", string(cur.Status)).Msg("subscription no longer due, charge skipped")
		return renewalSkipped, nil
	}

	pp, err := gw.CreatePayment(ctx, adapter.CreatePaymentParams{
		Amount:          p.Amount,
		Currency:        p.Currency,
		Description:     renewalDescription,
		PaymentMethodID: *origin.PaymentMethodID,
		Metadata: model.PaymentMetadata{
			PaymentProviderID: p.PaymentProviderID,
			UserID:            p.UserID,
			PlanID:            p.PlanID,
		},
	}, PaymentIdempotencyKey(p.ID))
	if err != nil {
		return renewalSkipped, err
	}
	return u.record(ctx, log, p, pp)
}

func (u *renewalUC) newRenewalPayment(ctx context.Context, sub *model.Subscription, plan *model.Plan, origin *model.Payment) (*model.Payment, error) {
	price, err := plan.PriceFor(origin.Currency)
	if err != nil {
		return nil, fmt.Errorf("plan %d %s: %w", plan.ID, origin.Currency, err)
	}
	p, err := model.NewPayment(sub.UserID, plan.ID, origin.PaymentProviderID, price.Amount, origin.Currency)
	if err != nil {
		return nil, err
	}
	p.SubscriptionID = &sub.ID
	p.PaymentMethod = origin.PaymentMethod
	p.PaymentMethodID = origin.PaymentMethodID
	p.CreatedAt, p.UpdatedAt = u.opts.now(), u.opts.now()
	if err := u.payments.Create(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	return p, nil
}

// record stores the provider answer on the local renewal payment. A success
// is applied through the shared settlement path, which renews the linked
// subscription and guards against double extension.
func (u *renewalUC) record(ctx context.Context, log *zerolog.Logger, p *model.Payment, pp *model.ProviderPayment) (renewalOutcome, error) {
	if p.ExternalPaymentID == nil {
		id := pp.ID
		p.ExternalPaymentID = &id
	}
	switch pp.Status {
	case model.PaymentStatusCanceled:
		p.Status = model.PaymentStatusCanceled
		p.UpdatedAt = u.opts.now()
		if err := u.persist(ctx, p); err != nil {
			return renewalSkipped, err
		}
		metrics.IncPayment(string(model.PaymentStatusCanceled), SourceRenewal)
		log.Warn().Str("payment_id", pp.ID).Msg("renewal charge canceled by provider")
		return renewalDeclined, nil

	case model.PaymentStatusSucceeded:
		if p.Status == model.PaymentStatusCreated {
			p.Status = model.PaymentStatusPending
			p.UpdatedAt = u.opts.now()
			if err := u.persist(ctx, p); err != nil {
				return renewalSkipped, err
			}
		}
		outcome, err := u.settlement.ApplySucceeded(ctx, pp, SettleOptions{Source: SourceRenewal})
		if err != nil {
			return renewalSkipped, err
		}
		if outcome != SettleApplied {
			return renewalSkipped, nil
		}
		log.Info().Str("payment_id", pp.ID).Msg("subscription renewed")
		return renewalRenewed, nil

	default:
		if p.Status == model.PaymentStatusCreated {
			p.Status = model.PaymentStatusPending
			p.UpdatedAt = u.opts.now()
			if err := u.persist(ctx, p); err != nil {
				return renewalSkipped, err
			}
		}
		return renewalPending, nil
	}
}

// persist writes the renewal payment. When a matcher already recorded the
// same provider payment under another row, the tentative row is retired.
func (u *renewalUC) persist(ctx context.Context, p *model.Payment) error {
	err := u.payments.Update(ctx, repository.NoTX, p)
	if errors.Is(err, domain.ErrAlreadyExists) {
		p.ExternalPaymentID = nil
		p.Status = model.PaymentStatusCanceled
		return u.payments.Update(ctx, repository.NoTX, p)
	}
	return err
}
