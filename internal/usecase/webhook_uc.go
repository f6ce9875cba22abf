// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/domain/ports/repository"
	"billing-service/internal/infra/logging"
	"billing-service/internal/infra/metrics"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

// WebhookResult tells the HTTP layer and metrics what happened. The endpoint
// acknowledges every result.
type WebhookResult string

const (
	WebhookApplied   WebhookResult = "applied"
	WebhookDuplicate WebhookResult = "duplicate"
	WebhookUnknown   WebhookResult = "unknown_payment"
	WebhookIgnored   WebhookResult = "ignored"
)

const (
	webhookLockTTL  = 30 * time.Second
	webhookLockWait = 2 * time.Second
)

type WebhookUseCase interface {
	Handle(ctx context.Context, event *model.WebhookEvent) (WebhookResult, error)
}

type webhookUC struct {
	payments   repository.PaymentRepository
	subUC      SubscriptionUseCase
	settlement SettlementUseCase
	locker     adapter.Locker // optional
	tm         repository.TransactionManager
	log        *zerolog.Logger
	opts       options
}

// NewWebhookUseCase wires the handler. locker may be nil; the row lock and
// the SUCCEEDED check already make deliveries for one payment safe.
func NewWebhookUseCase(
	payments repository.PaymentRepository,
	subUC SubscriptionUseCase,
	settlement SettlementUseCase,
	locker adapter.Locker,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
	opts ...Option,
) *webhookUC {
	l := logger.With().Str("component", "WebhookUC").Logger()
	return &webhookUC{
		payments:   payments,
		subUC:      subUC,
		settlement: settlement,
		locker:     locker,
		tm:         tm,
		log:        &l,
		opts:       buildOptions(opts),
	}
}

func (u *webhookUC) Handle(ctx context.Context, event *model.WebhookEvent) (WebhookResult, error) {
	if event == nil {
		return "", domain.ErrMalformedEvent
	}
	log := logging.With(ctx, u.log)
	switch event.Type {
	case model.EventPaymentSucceeded:
		if event.Payment == nil {
			return "", domain.ErrMalformedEvent
		}
		return u.withPaymentLock(ctx, event.Payment.ID, func() (WebhookResult, error) {
			return u.onSucceeded(ctx, log, event.Payment)
		})
	case model.EventPaymentCanceled:
		if event.Payment == nil {
			return "", domain.ErrMalformedEvent
		}
		return u.withPaymentLock(ctx, event.Payment.ID, func() (WebhookResult, error) {
			return u.onCanceled(ctx, log, event.Payment)
		})
	case model.EventRefundSucceeded:
		if event.Refund == nil || event.Refund.PaymentID == "" {
			return "", domain.ErrMalformedEvent
		}
		return u.withPaymentLock(ctx, event.Refund.PaymentID, func() (WebhookResult, error) {
			return u.onRefunded(ctx, log, event.Refund)
		})
	default:
		log.Debug().Str("event", string(event.Type)).Msg("webhook event ignored")
		return WebhookIgnored, nil
	}
}

// withPaymentLock serializes deliveries for one provider payment across
// instances. The lock is retried briefly; if it stays taken or Redis is down
// the delivery still runs under the payment row lock.
func (u *webhookUC) withPaymentLock(ctx context.Context, externalID string, fn func() (WebhookResult, error)) (WebhookResult, error) {
	if u.locker == nil {
		return fn()
	}
	key := "webhook:payment:" + externalID
	var token string
	acquire := func() error {
		t, err := u.locker.TryLock(ctx, key, webhookLockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockNotAcquired) {
				return backoff.Permanent(err)
			}
			return err
		}
		token = t
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = webhookLockWait
	if err := backoff.Retry(acquire, backoff.WithContext(b, ctx)); err != nil {
		u.log.Warn().Err(err).Str("payment_id", externalID).Msg("webhook lock not acquired; relying on row lock")
		return fn()
	}
	defer func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			u.log.Warn().Err(err).Str("payment_id", externalID).Msg("webhook unlock failed")
		}
	}()
	return fn()
}

func (u *webhookUC) onSucceeded(ctx context.Context, log *zerolog.Logger, pp *model.ProviderPayment) (WebhookResult, error) {
	outcome, err := u.settlement.ApplySucceeded(ctx, pp, SettleOptions{Source: SourceWebhook})
	if err != nil {
		return "", err
	}
	switch outcome {
	case SettleUnknown:
		log.Warn().Str("payment_id", pp.ID).Msg("succeeded payment unknown locally; left to matcher")
		return WebhookUnknown, nil
	case SettleDuplicate:
		log.Info().Str("payment_id", pp.ID).Msg("duplicate succeeded delivery")
		return WebhookDuplicate, nil
	}
	return WebhookApplied, nil
}

func (u *webhookUC) onCanceled(ctx context.Context, log *zerolog.Logger, pp *model.ProviderPayment) (WebhookResult, error) {
	p, err := u.payments.FindByExternalID(ctx, repository.NoTX, pp.ID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Str("payment_id", pp.ID).Msg("canceled payment unknown locally")
		return WebhookUnknown, nil
	}
	if err != nil {
		return "", err
	}
	changed, err := u.payments.UpdateStatusIf(ctx, repository.NoTX, p.ID,
		[]model.PaymentStatus{model.PaymentStatusCreated, model.PaymentStatusPending},
		model.PaymentStatusCanceled)
	if err != nil {
		return "", err
	}
	if !changed {
		return WebhookDuplicate, nil
	}
	metrics.IncPayment(string(model.PaymentStatusCanceled), SourceWebhook)
	return WebhookApplied, nil
}

func (u *webhookUC) onRefunded(ctx context.Context, log *zerolog.Logger, r *model.Refund) (WebhookResult, error) {
	result := WebhookApplied
	revoked := false
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByExternalID(ctx, tx, r.PaymentID)
		if errors.Is(err, domain.ErrNotFound) {
			result = WebhookUnknown
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status == model.PaymentStatusRefunded {
			result = WebhookDuplicate
			return nil
		}
		p.Status = model.PaymentStatusRefunded
		p.UpdatedAt = u.opts.now()
		if err := u.payments.Update(ctx, tx, p); err != nil {
			return err
		}
		if p.SubscriptionID == nil {
			return nil
		}
		revoked = true
		return u.subUC.Revoke(ctx, tx, *p.SubscriptionID)
	})
	if err != nil {
		return "", err
	}
	if result == WebhookApplied {
		metrics.IncPayment(string(model.PaymentStatusRefunded), SourceWebhook)
		if revoked {
			metrics.IncSubscriptionTransition(string(model.SubscriptionStatusDeleted))
		}
	}
	if result == WebhookUnknown {
		log.Warn().Str("payment_id", r.PaymentID).Str("refund_id", r.ID).Msg("refunded payment unknown locally")
	}
	return result, nil
}
