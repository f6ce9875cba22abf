package repository

import (
	"context"

	"billing-service/internal/domain/model"
)

// PlanRepository is the read-only port for the plan catalog. Plans are
// returned with their prices.
type PlanRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Plan, error)
}

type PaymentProviderRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*model.PaymentProvider, error)
	FindByName(ctx context.Context, tx Tx, name string) (*model.PaymentProvider, error)
}
