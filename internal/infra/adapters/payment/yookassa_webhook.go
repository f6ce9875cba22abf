package payment

import (
	"encoding/json"
	"fmt"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
)

// ParseWebhook decodes a YooKassa notification. Unknown event types are
// returned with no payload so the caller can acknowledge and ignore them.
func (g *YooKassaGateway) ParseWebhook(payload []byte) (*model.WebhookEvent, error) {
	return parseYooKassaWebhook(payload)
}

func parseYooKassaWebhook(payload []byte) (*model.WebhookEvent, error) {
	var n ykNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if n.Event == "" {
		return nil, fmt.Errorf("%w: missing event", domain.ErrMalformedEvent)
	}
	ev := &model.WebhookEvent{Type: model.WebhookEventType(n.Event)}

	switch ev.Type {
	case model.EventPaymentSucceeded, model.EventPaymentCanceled, model.EventPaymentWaitingForCapture:
		var p ykPayment
		if err := json.Unmarshal(n.Object, &p); err != nil || p.ID == "" {
			return nil, fmt.Errorf("%w: bad payment object", domain.ErrMalformedEvent)
		}
		pp, err := p.toDomain()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
		}
		ev.Payment = pp
	case model.EventRefundSucceeded:
		var r ykRefund
		if err := json.Unmarshal(n.Object, &r); err != nil || r.PaymentID == "" {
			return nil, fmt.Errorf("%w: bad refund object", domain.ErrMalformedEvent)
		}
		ev.Refund = r.toDomain()
	}
	return ev, nil
}
