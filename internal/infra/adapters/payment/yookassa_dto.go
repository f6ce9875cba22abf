package payment

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"billing-service/internal/domain/model"
)

// Wire shapes of the YooKassa v3 API. Only the fields the billing core reads are mapped.

type ykAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ykPaymentMethod struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Saved bool   `json:"saved,omitempty"`
}

type ykConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type ykPayment struct {
	ID            string                     `json:"id"`
	Status        string                     `json:"status"`
	Paid          bool                       `json:"paid"`
	Amount        ykAmount                   `json:"amount"`
	PaymentMethod *ykPaymentMethod           `json:"payment_method,omitempty"`
	Confirmation  *ykConfirmation            `json:"confirmation,omitempty"`
	Metadata      map[string]json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     string                     `json:"created_at"`
}

type ykPaymentList struct {
	Type       string      `json:"type"`
	Items      []ykPayment `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type ykRefund struct {
	ID        string   `json:"id"`
	PaymentID string   `json:"payment_id"`
	Status    string   `json:"status"`
	Amount    ykAmount `json:"amount"`
}

type ykCreatePayment struct {
	Amount            ykAmount          `json:"amount"`
	Capture           bool              `json:"capture"`
	Description       string            `json:"description,omitempty"`
	Confirmation      *ykConfirmation   `json:"confirmation,omitempty"`
	PaymentMethodID   string            `json:"payment_method_id,omitempty"`
	PaymentMethodData *ykPaymentMethod  `json:"payment_method_data,omitempty"`
	SavePaymentMethod bool              `json:"save_payment_method,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type ykError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Parameter   string `json:"parameter"`
}

type ykNotification struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object json.RawMessage `json:"object"`
}

// yooKassa timestamps are ISO 8601 in UTC with milliseconds.
const ykTimeLayout = "2006-01-02T15:04:05.000Z"

func ykStatus(s string) model.PaymentStatus {
	switch s {
	case "succeeded":
		return model.PaymentStatusSucceeded
	case "canceled":
		return model.PaymentStatusCanceled
	default: // pending, waiting_for_capture
		return model.PaymentStatusPending
	}
}

// ykStatusParam renders a local status as the listing filter value.
func ykStatusParam(s model.PaymentStatus) string {
	switch s {
	case model.PaymentStatusSucceeded, model.PaymentStatusCanceled, model.PaymentStatusPending:
		return string(s)
	}
	return ""
}

// metadataStrings flattens metadata values: strings are unquoted, numbers and
// other literals are kept verbatim.
func metadataStrings(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '"' {
			var s string
			if json.Unmarshal(v, &s) == nil {
				out[k] = s
				continue
			}
		}
		out[k] = strings.Trim(string(v), `"`)
	}
	return out
}

func (p *ykPayment) toDomain() (*model.ProviderPayment, error) {
	amount, err := decimal.NewFromString(p.Amount.Value)
	if err != nil {
		return nil, err
	}
	pp := &model.ProviderPayment{
		ID:       p.ID,
		Status:   ykStatus(p.Status),
		Amount:   amount,
		Currency: model.Currency(strings.ToUpper(p.Amount.Currency)),
	}
	if p.PaymentMethod != nil {
		pp.PaymentMethodType = p.PaymentMethod.Type
		pp.PaymentMethodID = p.PaymentMethod.ID
		pp.MethodSaved = p.PaymentMethod.Saved
	}
	if p.Confirmation != nil {
		pp.ConfirmationURL = p.Confirmation.ConfirmationURL
	}
	if p.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, p.CreatedAt); err == nil {
			pp.CreatedAt = t.UTC()
		}
	}
	pp.Metadata, pp.MetadataErr = model.ParsePaymentMetadata(metadataStrings(p.Metadata))
	return pp, nil
}

func (r *ykRefund) toDomain() *model.Refund {
	amount, _ := decimal.NewFromString(r.Amount.Value)
	return &model.Refund{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		Status:    r.Status,
		Amount:    amount,
		Currency:  model.Currency(strings.ToUpper(r.Amount.Currency)),
	}
}

func formatAmount(d decimal.Decimal) string { return d.StringFixed(2) }

func formatLimit(n int) string {
	if n <= 0 || n > 100 {
		n = 100
	}
	return strconv.Itoa(n)
}
