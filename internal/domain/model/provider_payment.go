package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"billing-service/internal/domain"
)

// PaymentMetadata correlates a provider payment with local entities.
// Providers echo it back as string values.
type PaymentMetadata struct {
	PaymentProviderID int64
	UserID            string
	PlanID            int64
}

// ParsePaymentMetadata reads the string map a provider returns.
func ParsePaymentMetadata(m map[string]string) (PaymentMetadata, error) {
	var md PaymentMetadata
	var err error
	if md.PlanID, err = strconv.ParseInt(m["plan_id"], 10, 64); err != nil {
		return md, domain.ErrInvalidArgument
	}
	if md.PaymentProviderID, err = strconv.ParseInt(m["payment_provider_id"], 10, 64); err != nil {
		return md, domain.ErrInvalidArgument
	}
	md.UserID = m["user_id"]
	if md.UserID == "" {
		return md, domain.ErrInvalidArgument
	}
	return md, nil
}

// Map renders metadata in the provider wire shape.
func (m PaymentMetadata) Map() map[string]string {
	return map[string]string{
		"payment_provider_id": strconv.FormatInt(m.PaymentProviderID, 10),
		"user_id":             m.UserID,
		"plan_id":             strconv.FormatInt(m.PlanID, 10),
	}
}

// ProviderPayment is the provider's view of a payment. It is never persisted.
type ProviderPayment struct {
	ID                string
	Status            PaymentStatus
	Amount            decimal.Decimal
	Currency          Currency
	PaymentMethodType string
	PaymentMethodID   string
	MethodSaved       bool
	Metadata          PaymentMetadata
	MetadataErr       error // set when metadata was missing or malformed
	ConfirmationURL   string
	CreatedAt         time.Time
}

// ToPayment builds a local payment record mirroring the provider payment.
func (pp *ProviderPayment) ToPayment(now time.Time) (*Payment, error) {
	if pp.MetadataErr != nil {
		return nil, pp.MetadataErr
	}
	p, err := NewPayment(pp.Metadata.UserID, pp.Metadata.PlanID, pp.Metadata.PaymentProviderID, pp.Amount, pp.Currency)
	if err != nil {
		return nil, err
	}
	id := pp.ID
	p.ExternalPaymentID = &id
	p.Status = pp.Status
	if pp.PaymentMethodType != "" {
		m := pp.PaymentMethodType
		p.PaymentMethod = &m
	}
	if pp.PaymentMethodID != "" && pp.MethodSaved {
		mid := pp.PaymentMethodID
		p.PaymentMethodID = &mid
	}
	// keep the provider creation time so matcher windows line up on both sides
	p.CreatedAt, p.UpdatedAt = pp.CreatedAt, now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	return p, nil
}

// SavedMethodID returns the reusable method token, or "" when the provider did not save it.
func (pp *ProviderPayment) SavedMethodID() string {
	if !pp.MethodSaved {
		return ""
	}
	return pp.PaymentMethodID
}

type WebhookEventType string

const (
	EventPaymentSucceeded         WebhookEventType = "payment.succeeded"
	EventPaymentCanceled          WebhookEventType = "payment.canceled"
	EventPaymentWaitingForCapture WebhookEventType = "payment.waiting_for_capture"
	EventRefundSucceeded          WebhookEventType = "refund.succeeded"
)

// Refund is the part of a provider refund object the core needs.
type Refund struct {
	ID        string
	PaymentID string
	Status    string
	Amount    decimal.Decimal
	Currency  Currency
}

// WebhookEvent is a parsed provider notification. Exactly one of Payment or
// Refund is set for known event types.
type WebhookEvent struct {
	Type    WebhookEventType
	Payment *ProviderPayment
	Refund  *Refund
}
