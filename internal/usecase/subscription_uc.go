// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/repository"
	"billing-service/internal/infra/logging"
	"billing-service/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

const (
	MinPauseDays     = 1
	MaxPauseDays     = 30
	DefaultPauseDays = 7
)

// SubscriptionUseCase drives the subscription state machine.
// Methods taking tx must be called inside TransactionManager.WithTx.
type SubscriptionUseCase interface {
	// Activate extends the user's ACTIVE subscription to now + plan duration
	// or creates a new ACTIVE one. The caller holds the per-user lock.
	Activate(ctx context.Context, tx repository.Tx, userID string, plan *model.Plan) (*model.Subscription, error)
	// Renew moves sub to now + plan duration and keeps it ACTIVE.
	Renew(ctx context.Context, tx repository.Tx, sub *model.Subscription, plan *model.Plan) error
	// Revoke sets the subscription DELETED with ended_at = now.
	Revoke(ctx context.Context, tx repository.Tx, subscriptionID int64) error
	// ExpireDue sets EXPIRED on ACTIVE subscriptions with ended_at <= now - grace.
	ExpireDue(ctx context.Context, grace time.Duration, limit int) (Report, error)

	Pause(ctx context.Context, userID string, subscriptionID int64, days int) (*model.Subscription, error)
	Resume(ctx context.Context, userID string, subscriptionID int64) (*model.Subscription, error)
	Cancel(ctx context.Context, userID string, subscriptionID int64) (*model.Subscription, error)
}

type subscriptionUC struct {
	subs repository.SubscriptionRepository
	tm   repository.TransactionManager
	log  *zerolog.Logger
	opts options
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
	opts ...Option,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{subs: subs, tm: tm, log: &l, opts: buildOptions(opts)}
}

func (u *subscriptionUC) Activate(ctx context.Context, tx repository.Tx, userID string, plan *model.Plan) (*model.Subscription, error) {
	now := u.opts.now()
	active, err := u.subs.FindActiveByUser(ctx, tx, userID)
	switch {
	case err == nil:
		if err := active.Extend(plan, now); err != nil {
			return nil, err
		}
		if err := u.subs.Update(ctx, tx, active); err != nil {
			return nil, fmt.Errorf("extend subscription %d: %w", active.ID, err)
		}
		return active, nil
	case errors.Is(err, domain.ErrNotFound):
		sub, err := model.NewActiveSubscription(userID, plan, now)
		if err != nil {
			return nil, err
		}
		if err := u.subs.Create(ctx, tx, sub); err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}
		return sub, nil
	default:
		return nil, err
	}
}

func (u *subscriptionUC) Renew(ctx context.Context, tx repository.Tx, sub *model.Subscription, plan *model.Plan) error {
	if err := sub.Extend(plan, u.opts.now()); err != nil {
		return err
	}
	return u.subs.Update(ctx, tx, sub)
}

func (u *subscriptionUC) Revoke(ctx context.Context, tx repository.Tx, subscriptionID int64) error {
	sub, err := u.subs.FindByID(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionStatusDeleted {
		return nil
	}
	if err := sub.Revoke(u.opts.now()); err != nil {
		return err
	}
	return u.subs.Update(ctx, tx, sub)
}

func (u *subscriptionUC) ExpireDue(ctx context.Context, grace time.Duration, limit int) (Report, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ExpireDue")()
	var rep Report
	cutoff := u.opts.now().Add(-grace)
	due, err := u.subs.ListActiveEndedBefore(ctx, repository.NoTX, cutoff, limit)
	if err != nil {
		return rep, err
	}
	for _, s := range due {
		rep.Checked++
		expired, err := u.expireOne(ctx, s.ID, cutoff)
		if err != nil {
			rep.Failed++
			u.log.Error().Err(err).Int64("subscription_id", s.ID).Str("op", "expire").Msg("expire subscription failed")
			continue
		}
		if expired {
			rep.Expired++
			metrics.IncSubscriptionTransition(string(model.SubscriptionStatusExpired))
		}
	}
	return rep, nil
}

// expireOne re-reads the row under lock so a renewal that landed after the
// listing is not overwritten.
func (u *subscriptionUC) expireOne(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	var expired bool
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionStatusActive || sub.EndedAt.After(cutoff) {
			return nil
		}
		if err := sub.Expire(u.opts.now()); err != nil {
			return err
		}
		expired = true
		return u.subs.Update(ctx, tx, sub)
	})
	return expired, err
}

func (u *subscriptionUC) Pause(ctx context.Context, userID string, subscriptionID int64, days int) (*model.Subscription, error) {
	if days < MinPauseDays || days > MaxPauseDays {
		return nil, domain.ErrInvalidArgument
	}
	return u.mutateOwned(ctx, userID, subscriptionID, func(_ context.Context, _ repository.Tx, s *model.Subscription, now time.Time) error {
		return s.Pause(days, now)
	})
}

func (u *subscriptionUC) Resume(ctx context.Context, userID string, subscriptionID int64) (*model.Subscription, error) {
	return u.mutateOwned(ctx, userID, subscriptionID, func(ctx context.Context, tx repository.Tx, s *model.Subscription, now time.Time) error {
		// at most one ACTIVE subscription per user
		if other, err := u.subs.FindActiveByUser(ctx, tx, userID); err == nil && other.ID != s.ID {
			return domain.ErrAlreadyExists
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return s.Resume(now)
	})
}

func (u *subscriptionUC) Cancel(ctx context.Context, userID string, subscriptionID int64) (*model.Subscription, error) {
	return u.mutateOwned(ctx, userID, subscriptionID, func(_ context.Context, _ repository.Tx, s *model.Subscription, now time.Time) error {
		return s.Cancel(now)
	})
}

// mutateOwned applies fn to a subscription owned by userID under the per-user lock.
func (u *subscriptionUC) mutateOwned(ctx context.Context, userID string, id int64, fn func(context.Context, repository.Tx, *model.Subscription, time.Time) error) (*model.Subscription, error) {
	var out *model.Subscription
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.subs.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		sub, err := u.subs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.UserID != userID {
			return domain.ErrNotFound
		}
		if err := fn(ctx, tx, sub, u.opts.now()); err != nil {
			return err
		}
		if err := u.subs.Update(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncSubscriptionTransition(string(out.Status))
	u.log.Info().Int64("subscription_id", out.ID).Str("status", string(out.Status)).Msg("subscription updated by user")
	return out, nil
}
