// File: internal/usecase/settlement_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/repository"
	"billing-service/internal/infra/metrics"
)

// Compile-time check
var _ SettlementUseCase = (*settlementUC)(nil)

type SettleOutcome string

const (
	SettleApplied   SettleOutcome = "applied"   // payment moved to SUCCEEDED, subscription activated or extended
	SettleDuplicate SettleOutcome = "duplicate" // already SUCCEEDED (or refunded) locally, nothing changed
	SettleUnknown   SettleOutcome = "unknown"   // no local payment and creation not allowed
)

// SettleOptions controls how ApplySucceeded treats a provider payment the
// local store does not know about.
type SettleOptions struct {
	// AllowCreate inserts a local SUCCEEDED payment from provider metadata.
	AllowCreate bool
	// Source labels the caller in metrics: webhook, matcher or renewal.
	Source string
}

const (
	SourceWebhook = "webhook"
	SourceMatcher = "matcher"
	SourceRenewal = "renewal"
)

// SettlementUseCase is the single success path shared by the webhook handler,
// both matchers and the renewal worker.
type SettlementUseCase interface {
	ApplySucceeded(ctx context.Context, pp *model.ProviderPayment, opts SettleOptions) (SettleOutcome, error)
}

type settlementUC struct {
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	plans    repository.PlanRepository
	subUC    SubscriptionUseCase
	tm       repository.TransactionManager
	log      *zerolog.Logger
	opts     options
}

func NewSettlementUseCase(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	subUC SubscriptionUseCase,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
	opts ...Option,
) *settlementUC {
	l := logger.With().Str("component", "SettlementUC").Logger()
	return &settlementUC{
		payments: payments,
		subs:     subs,
		plans:    plans,
		subUC:    subUC,
		tm:       tm,
		log:      &l,
		opts:     buildOptions(opts),
	}
}

// ApplySucceeded runs in one transaction:
//  1. lock the local payment row by external id (or, when creating, take the
//     per-user lock and re-check so concurrent creators see each other);
//  2. stop if the payment is already SUCCEEDED, so a duplicate delivery never
//     extends the subscription twice;
//  3. renew the linked subscription, or activate/extend the user's ACTIVE one;
//  4. mark the payment SUCCEEDED and link it to the subscription.
func (u *settlementUC) ApplySucceeded(ctx context.Context, pp *model.ProviderPayment, opts SettleOptions) (SettleOutcome, error) {
	if pp == nil || pp.ID == "" {
		return "", domain.ErrInvalidArgument
	}
	outcome := SettleApplied
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByExternalID(ctx, tx, pp.ID)
		isNew := false
		switch {
		case err == nil:
			if err := u.subs.LockUser(ctx, tx, p.UserID); err != nil {
				return err
			}
		case errors.Is(err, domain.ErrNotFound):
			if !opts.AllowCreate {
				outcome = SettleUnknown
				return nil
			}
			if pp.MetadataErr != nil {
				return fmt.Errorf("payment %s metadata: %w", pp.ID, pp.MetadataErr)
			}
			if err := u.subs.LockUser(ctx, tx, pp.Metadata.UserID); err != nil {
				return err
			}
			p, err = u.payments.FindByExternalID(ctx, tx, pp.ID)
			if errors.Is(err, domain.ErrNotFound) {
				if p, err = pp.ToPayment(u.opts.now()); err != nil {
					return err
				}
				isNew = true
			} else if err != nil {
				return err
			}
		default:
			return err
		}

		if !isNew && (p.Status == model.PaymentStatusSucceeded || p.Status == model.PaymentStatusRefunded) {
			outcome = SettleDuplicate
			return nil
		}

		sub, err := u.settleSubscription(ctx, tx, p)
		if err != nil {
			return err
		}

		p.MarkSucceeded(pp.PaymentMethodType, pp.SavedMethodID(), u.opts.now())
		p.SubscriptionID = &sub.ID
		if isNew {
			return u.payments.Create(ctx, tx, p)
		}
		return u.payments.Update(ctx, tx, p)
	})
	if err != nil {
		return "", err
	}
	if outcome == SettleApplied {
		metrics.IncPayment(string(model.PaymentStatusSucceeded), opts.Source)
		metrics.AddPaymentRevenue(string(pp.Currency), pp.Amount.InexactFloat64())
		u.log.Info().Str("payment_id", pp.ID).Str("source", opts.Source).Msg("payment settled")
	}
	return outcome, nil
}

// settleSubscription renews the subscription a renewal payment points at, or
// falls back to the per-user create-or-extend decision.
func (u *settlementUC) settleSubscription(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Subscription, error) {
	plan, err := u.plans.FindByID(ctx, tx, p.PlanID)
	if err != nil {
		return nil, fmt.Errorf("plan %d: %w", p.PlanID, err)
	}
	if p.SubscriptionID != nil {
		sub, err := u.subs.FindByID(ctx, tx, *p.SubscriptionID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if err == nil && sub.Status == model.SubscriptionStatusActive {
			if err := u.subUC.Renew(ctx, tx, sub, plan); err != nil {
				return nil, err
			}
			return sub, nil
		}
	}
	return u.subUC.Activate(ctx, tx, p.UserID, plan)
}
