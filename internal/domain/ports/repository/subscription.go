package repository

import (
	"context"
	"time"

	"billing-service/internal/domain/model"
)

// SubscriptionRepository is the port for user subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, tx Tx, s *model.Subscription) error
	Update(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Subscription, error)
	// FindActiveByUser returns the single ACTIVE subscription of a user or ErrNotFound.
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	// ListActiveEndedBefore returns ACTIVE subscriptions with ended_at <= cutoff, oldest first.
	ListActiveEndedBefore(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Subscription, error)
	// ListRenewalDue returns ACTIVE subscriptions on recurring plans with
	// ended_at <= cutoff, oldest first. Subscriptions whose renewal for the
	// current period already reached a final status are left out.
	ListRenewalDue(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Subscription, error)
	// LockUser serializes create-or-extend decisions for one user until tx ends.
	LockUser(ctx context.Context, tx Tx, userID string) error
}
