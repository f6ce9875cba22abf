package adapter

import (
	"context"
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"billing-service/internal/domain/model"
)

// ListParams filters a provider payment listing. CreatedGTE is inclusive,
// CreatedLT exclusive. Limit is the page size, not a total.
type ListParams struct {
	Status     model.PaymentStatus
	CreatedGTE time.Time
	CreatedLT  time.Time
	Limit      int
}

// CreatePaymentParams describes a provider payment to create. A renewal sets
// PaymentMethodID and leaves ReturnURL empty; a pay-link sets ReturnURL.
type CreatePaymentParams struct {
	Amount            decimal.Decimal
	Currency          model.Currency
	Description       string
	PaymentMethodType string
	PaymentMethodID   string
	SavePaymentMethod bool
	ReturnURL         string
	Metadata          model.PaymentMetadata
}

// PaymentGateway is the hex port for payment providers. Every method fails
// with *domain.ProviderError when the remote call errors or times out.
type PaymentGateway interface {
	Name() string

	// GetPayment fails with an error wrapping domain.ErrNotFound when the
	// provider has no such payment.
	GetPayment(ctx context.Context, id string) (*model.ProviderPayment, error)
	// ListPayments lazily walks the provider listing page by page, following
	// the provider cursor until none is returned. Only one page is held in
	// memory. Iteration stops after the first error is yielded.
	ListPayments(ctx context.Context, p ListParams) iter.Seq2[*model.ProviderPayment, error]
	// CreatePayment is safe to retry with the same idempotency key.
	CreatePayment(ctx context.Context, p CreatePaymentParams, idempotencyKey string) (*model.ProviderPayment, error)
}

// WebhookParser turns a raw provider notification into an event.
// It fails with domain.ErrMalformedEvent when no event type can be read.
type WebhookParser interface {
	ParseWebhook(payload []byte) (*model.WebhookEvent, error)
}

// GatewayRegistry resolves the gateway serving a local payment provider id.
type GatewayRegistry interface {
	ForProvider(ctx context.Context, providerID int64) (PaymentGateway, error)
}
