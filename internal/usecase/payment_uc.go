// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/domain/ports/repository"
	"billing-service/internal/infra/logging"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

const DefaultIdempotencyTTL = 1200 * time.Second

type PayLinkRequest struct {
	UserID        string
	PlanID        int64
	ProviderID    int64
	Currency      model.Currency
	PaymentMethod string // optional provider method type, e.g. bank_card
	ReturnURL     string
}

type PayLink struct {
	PaymentID         int64
	ExternalPaymentID string
	ConfirmationURL   string
	Amount            decimal.Decimal
	Currency          model.Currency
}

type PaymentUseCase interface {
	// CreatePayLink creates (or, within the idempotency TTL, reuses) a local
	// payment and its provider payment and returns the hosted page URL.
	CreatePayLink(ctx context.Context, req PayLinkRequest) (*PayLink, error)
}

type paymentUC struct {
	plans     repository.PlanRepository
	providers repository.PaymentProviderRepository
	payments  repository.PaymentRepository
	gateways  adapter.GatewayRegistry
	cache     adapter.IdempotencyCache
	ttl       time.Duration
	log       *zerolog.Logger
	opts      options
}

func NewPaymentUseCase(
	plans repository.PlanRepository,
	providers repository.PaymentProviderRepository,
	payments repository.PaymentRepository,
	gateways adapter.GatewayRegistry,
	cache adapter.IdempotencyCache,
	ttl time.Duration,
	logger *zerolog.Logger,
	opts ...Option,
) *paymentUC {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	l := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{
		plans:     plans,
		providers: providers,
		payments:  payments,
		gateways:  gateways,
		cache:     cache,
		ttl:       ttl,
		log:       &l,
		opts:      buildOptions(opts),
	}
}

func (u *paymentUC) CreatePayLink(ctx context.Context, req PayLinkRequest) (*PayLink, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CreatePayLink")()
	if req.UserID == "" || req.ReturnURL == "" {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := u.plans.FindByID(ctx, repository.NoTX, req.PlanID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !plan.IsActive) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	price, err := plan.PriceFor(req.Currency)
	if err != nil {
		return nil, err
	}
	provider, err := u.providers.FindByID(ctx, repository.NoTX, req.ProviderID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !provider.IsActive) {
		return nil, domain.ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	gw, err := u.gateways.ForProvider(ctx, provider.ID)
	if err != nil {
		return nil, err
	}

	p, err := u.localPayment(ctx, req, price)
	if err != nil {
		return nil, err
	}

	pp, err := gw.CreatePayment(ctx, adapter.CreatePaymentParams{
		Amount:            p.Amount,
		Currency:          p.Currency,
		Description:       fmt.Sprintf("Subscription %q", plan.Name),
		PaymentMethodType: req.PaymentMethod,
		SavePaymentMethod: plan.IsRecurring,
		ReturnURL:         req.ReturnURL,
		Metadata: model.PaymentMetadata{
			PaymentProviderID: provider.ID,
			UserID:            req.UserID,
			PlanID:            plan.ID,
		},
	}, PaymentIdempotencyKey(p.ID))
	if err != nil {
		return nil, err
	}

	if p.Status == model.PaymentStatusCreated {
		id := pp.ID
		p.ExternalPaymentID = &id
		p.Status = model.PaymentStatusPending
		p.UpdatedAt = u.opts.now()
		if err := u.payments.Update(ctx, repository.NoTX, p); err != nil {
			return nil, err
		}
	}
	u.log.Info().Int64("local_payment_id", p.ID).Str("payment_id", pp.ID).Str("user_id", req.UserID).Msg("pay-link created")
	return &PayLink{
		PaymentID:         p.ID,
		ExternalPaymentID: pp.ID,
		ConfirmationURL:   pp.ConfirmationURL,
		Amount:            p.Amount,
		Currency:          p.Currency,
	}, nil
}

// localPayment returns the payment remembered for this request shape within
// the TTL, or creates a new CREATED one. A cache outage only costs the reuse.
func (u *paymentUC) localPayment(ctx context.Context, req PayLinkRequest, price *model.Price) (*model.Payment, error) {
	key := fmt.Sprintf("paylink:%s:%d:%s:%d", req.UserID, req.PlanID, req.Currency, req.ProviderID)
	if cached, ok, err := u.cache.Get(ctx, key); err != nil {
		u.log.Warn().Err(err).Str("key", key).Msg("idempotency cache get failed")
	} else if ok {
		if id, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
			p, err := u.payments.FindByID(ctx, repository.NoTX, id)
			if err == nil && (p.Status == model.PaymentStatusCreated || p.Status == model.PaymentStatusPending) {
				return p, nil
			}
		}
	}

	p, err := model.NewPayment(req.UserID, req.PlanID, req.ProviderID, price.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	if req.PaymentMethod != "" {
		m := req.PaymentMethod
		p.PaymentMethod = &m
	}
	p.CreatedAt, p.UpdatedAt = u.opts.now(), u.opts.now()
	if err := u.payments.Create(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	if err := u.cache.Set(ctx, key, strconv.FormatInt(p.ID, 10), u.ttl); err != nil {
		u.log.Warn().Err(err).Str("key", key).Msg("idempotency cache set failed")
	}
	return p, nil
}
