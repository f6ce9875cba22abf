package repository

import (
	"context"
	"time"

	"billing-service/internal/domain/model"
)

// PaymentFilter narrows payment listings. Zero values mean "no constraint".
// CreatedFrom is inclusive, CreatedTo exclusive.
type PaymentFilter struct {
	Statuses    []model.PaymentStatus
	ProviderID  int64
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
}

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// Create inserts p and sets p.ID. Fails with ErrInvalidAmount for amount <= 0
	// and ErrAlreadyExists when the external id is taken.
	Create(ctx context.Context, tx Tx, p *model.Payment) error
	Update(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Payment, error)
	// FindByExternalID locks the row when tx is a transaction.
	FindByExternalID(ctx context.Context, tx Tx, externalID string) (*model.Payment, error)
	List(ctx context.Context, tx Tx, f PaymentFilter) ([]*model.Payment, error)
	// ListExternalIDs returns the provider ids of payments matching f; rows
	// without an external id are skipped.
	ListExternalIDs(ctx context.Context, tx Tx, f PaymentFilter) ([]string, error)
	// UpdateStatusIf moves the payment to `to` only when its current status is
	// one of `from`. Reports whether a row changed.
	UpdateStatusIf(ctx context.Context, tx Tx, id int64, from []model.PaymentStatus, to model.PaymentStatus) (bool, error)
	// FindLastSucceededBySubscription returns the newest SUCCEEDED payment with a saved method.
	FindLastSucceededBySubscription(ctx context.Context, tx Tx, subscriptionID int64) (*model.Payment, error)
	// FindLatestRenewal returns the newest payment linked to the subscription
	// created at or after since, whatever its status.
	FindLatestRenewal(ctx context.Context, tx Tx, subscriptionID int64, since time.Time) (*model.Payment, error)
}
