package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"billing-service/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "created"   // stored locally, provider not called yet
	PaymentStatusPending   PaymentStatus = "pending"   // accepted by provider; awaiting the customer
	PaymentStatusSucceeded PaymentStatus = "succeeded" // money captured at provider
	PaymentStatusExpired   PaymentStatus = "expired"   // stayed pending past the waiting threshold
	PaymentStatusCanceled  PaymentStatus = "canceled"  // canceled at provider
	PaymentStatusRefunded  PaymentStatus = "refunded"  // refund succeeded at provider
)

// IsTerminal reports whether no further provider-driven transition is expected.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusExpired, PaymentStatusCanceled, PaymentStatusRefunded:
		return true
	}
	return false
}

type Currency string

const (
	CurrencyRUB Currency = "RUB"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// ParseCurrency normalizes a currency code ("rub" -> RUB).
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CurrencyRUB, CurrencyUSD, CurrencyEUR:
		return c, nil
	}
	return "", domain.ErrInvalidArgument
}

// Payment is one attempt to collect money through a provider.
type Payment struct {
	ID                int64
	ExternalPaymentID *string // provider id, nil until the provider accepted the payment
	Status            PaymentStatus
	Currency          Currency
	Amount            decimal.Decimal // fixed point, 2 fractional digits
	PaymentMethod     *string         // provider method type, e.g. bank_card
	PaymentMethodID   *string         // saved method token used for renewals
	SubscriptionID    *int64
	PaymentProviderID int64
	UserID            string
	PlanID            int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPayment validates and constructs a payment in CREATED status.
func NewPayment(userID string, planID, providerID int64, amount decimal.Decimal, currency Currency) (*Payment, error) {
	if userID == "" || planID <= 0 || providerID <= 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	// stored with two decimals; check the value that will be stored
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	now := time.Now().UTC()
	return &Payment{
		Status:            PaymentStatusCreated,
		Currency:          currency,
		Amount:            amount,
		PaymentProviderID: providerID,
		UserID:            userID,
		PlanID:            planID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Validate checks the invariants enforced before any write.
func (p *Payment) Validate() error {
	if p == nil {
		return domain.ErrInvalidArgument
	}
	if !p.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if p.ExternalPaymentID != nil && *p.ExternalPaymentID == "" {
		return domain.ErrInvalidArgument
	}
	return nil
}

// External returns the provider id or "".
func (p *Payment) External() string {
	if p.ExternalPaymentID == nil {
		return ""
	}
	return *p.ExternalPaymentID
}

// MarkSucceeded records provider confirmation. The payment method fields are
// only overwritten when the provider reported them.
func (p *Payment) MarkSucceeded(method, methodID string, at time.Time) {
	p.Status = PaymentStatusSucceeded
	if method != "" {
		p.PaymentMethod = &method
	}
	if methodID != "" {
		p.PaymentMethodID = &methodID
	}
	p.UpdatedAt = at
}
