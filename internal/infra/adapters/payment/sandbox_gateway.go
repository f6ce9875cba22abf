package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/adapter"
)

var (
	_ adapter.PaymentGateway = (*SandboxGateway)(nil)
	_ adapter.WebhookParser  = (*SandboxGateway)(nil)
)

const SandboxName = "sandbox"

// SandboxGateway is an in-memory provider for local runs and tests. Payments
// stay PENDING until Complete or Cancel is called; charges with a saved
// method succeed at once.
type SandboxGateway struct {
	mu       sync.Mutex
	payments map[string]*model.ProviderPayment
	byKey    map[string]string // idempotency key -> payment id
	now      func() time.Time
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		payments: make(map[string]*model.ProviderPayment),
		byKey:    make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (g *SandboxGateway) Name() string { return SandboxName }

func (g *SandboxGateway) GetPayment(ctx context.Context, id string) (*model.ProviderPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return nil, &domain.ProviderError{Provider: SandboxName, Op: "get_payment", StatusCode: 404, Err: domain.ErrNotFound}
	}
	cp := *p
	return &cp, nil
}

func (g *SandboxGateway) ListPayments(ctx context.Context, lp adapter.ListParams) iter.Seq2[*model.ProviderPayment, error] {
	return func(yield func(*model.ProviderPayment, error) bool) {
		g.mu.Lock()
		var items []model.ProviderPayment
		for _, p := range g.payments {
			if lp.Status != "" && p.Status != lp.Status {
				continue
			}
			if !lp.CreatedGTE.IsZero() && p.CreatedAt.Before(lp.CreatedGTE) {
				continue
			}
			if !lp.CreatedLT.IsZero() && !p.CreatedAt.Before(lp.CreatedLT) {
				continue
			}
			items = append(items, *p)
		}
		g.mu.Unlock()

		sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
		for i := range items {
			if err := ctx.Err(); err != nil {
				yield(nil, &domain.ProviderError{Provider: SandboxName, Op: "list_payments", Err: domain.ErrProviderUnavailable, Detail: err.Error()})
				return
			}
			if !yield(&items[i], nil) {
				return
			}
		}
	}
}

func (g *SandboxGateway) CreatePayment(ctx context.Context, p adapter.CreatePaymentParams, idempotencyKey string) (*model.ProviderPayment, error) {
	if idempotencyKey == "" || !p.Amount.IsPositive() {
		return nil, &domain.ProviderError{Provider: SandboxName, Op: "create_payment", StatusCode: 400, Err: domain.ErrProviderInvalidParams}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.byKey[idempotencyKey]; ok {
		cp := *g.payments[id]
		return &cp, nil
	}
	id := uuid.NewString()
	pp := &model.ProviderPayment{
		ID:                id,
		Status:            model.PaymentStatusPending,
		Amount:            p.Amount.Round(2),
		Currency:          p.Currency,
		PaymentMethodType: p.PaymentMethodType,
		Metadata:          p.Metadata,
		CreatedAt:         g.now(),
	}
	if p.PaymentMethodID != "" {
		pp.Status = model.PaymentStatusSucceeded
		pp.PaymentMethodID = p.PaymentMethodID
		pp.MethodSaved = true
	} else {
		pp.ConfirmationURL = "https://sandbox.invalid/pay/" + id
		if p.SavePaymentMethod {
			pp.PaymentMethodID = "pm-" + id
		}
	}
	g.payments[id] = pp
	g.byKey[idempotencyKey] = id
	cp := *pp
	return &cp, nil
}

// Complete marks a pending payment succeeded as if the customer paid.
func (g *SandboxGateway) Complete(id string) (*model.ProviderPayment, error) {
	return g.settle(id, model.PaymentStatusSucceeded)
}

func (g *SandboxGateway) Cancel(id string) (*model.ProviderPayment, error) {
	return g.settle(id, model.PaymentStatusCanceled)
}

func (g *SandboxGateway) settle(id string, to model.PaymentStatus) (*model.ProviderPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Status != model.PaymentStatusPending {
		return nil, fmt.Errorf("sandbox payment %s is %s: %w", id, p.Status, domain.ErrInvalidTransition)
	}
	p.Status = to
	if to == model.PaymentStatusSucceeded && p.PaymentMethodID != "" {
		p.MethodSaved = true
	}
	cp := *p
	return &cp, nil
}

// sandboxNotification is the webhook body the sandbox accepts.
type sandboxNotification struct {
	Event     string `json:"event"`
	PaymentID string `json:"payment_id"`
}

// ParseWebhook resolves the referenced payment from the in-memory store so
// a local run can drive the webhook path with a tiny body.
func (g *SandboxGateway) ParseWebhook(payload []byte) (*model.WebhookEvent, error) {
	var n sandboxNotification
	if err := json.Unmarshal(payload, &n); err != nil || n.Event == "" {
		return nil, domain.ErrMalformedEvent
	}
	ev := &model.WebhookEvent{Type: model.WebhookEventType(n.Event)}
	switch ev.Type {
	case model.EventPaymentSucceeded, model.EventPaymentCanceled, model.EventPaymentWaitingForCapture:
		p, err := g.GetPayment(context.Background(), n.PaymentID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
		}
		ev.Payment = p
	case model.EventRefundSucceeded:
		if n.PaymentID == "" {
			return nil, domain.ErrMalformedEvent
		}
		ev.Refund = &model.Refund{ID: "rf-" + n.PaymentID, PaymentID: n.PaymentID, Status: "succeeded"}
	}
	return ev, nil
}
