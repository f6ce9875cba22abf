package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"billing-service/internal/config"
	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/infra/metrics"
)

var (
	_ adapter.PaymentGateway = (*YooKassaGateway)(nil)
	_ adapter.WebhookParser  = (*YooKassaGateway)(nil)
)

const YooKassaName = "yookassa"

// YooKassaGateway implements adapter.PaymentGateway over the YooKassa REST v3 API.
// Transport errors, 429 and 5xx are retried by retryablehttp; POSTs carry an
// Idempotence-Key so a retried create never charges twice.
type YooKassaGateway struct {
	shopID    string
	secretKey string
	baseURL   string
	client    *retryablehttp.Client
	log       *zerolog.Logger
}

func NewYooKassaGateway(cfg config.YooKassaConfig, logger *zerolog.Logger) (*YooKassaGateway, error) {
	if cfg.ShopID == "" || cfg.SecretKey == "" {
		return nil, errors.New("yookassa: shop id and secret key are required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("yookassa: invalid base url: %w", err)
	}
	l := logger.With().Str("component", "YooKassaGateway").Logger()

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = retryLogger{&l}
	// keep the last response so status codes can be mapped after retries give up
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &YooKassaGateway{
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    rc,
		log:       &l,
	}, nil
}

func (g *YooKassaGateway) Name() string { return YooKassaName }

func (g *YooKassaGateway) GetPayment(ctx context.Context, id string) (*model.ProviderPayment, error) {
	if id == "" {
		return nil, &domain.ProviderError{Provider: YooKassaName, Op: "get_payment", Err: domain.ErrProviderInvalidParams, Detail: "empty id"}
	}
	var out ykPayment
	if err := g.do(ctx, "get_payment", http.MethodGet, "/payments/"+url.PathEscape(id), nil, nil, "", &out); err != nil {
		return nil, err
	}
	pp, err := out.toDomain()
	if err != nil {
		return nil, g.decodeErr("get_payment", err)
	}
	return pp, nil
}

func (g *YooKassaGateway) ListPayments(ctx context.Context, p adapter.ListParams) iter.Seq2[*model.ProviderPayment, error] {
	return func(yield func(*model.ProviderPayment, error) bool) {
		q := url.Values{}
		if s := ykStatusParam(p.Status); s != "" {
			q.Set("status", s)
		}
		if !p.CreatedGTE.IsZero() {
			q.Set("created_at.gte", p.CreatedGTE.UTC().Format(ykTimeLayout))
		}
		if !p.CreatedLT.IsZero() {
			q.Set("created_at.lt", p.CreatedLT.UTC().Format(ykTimeLayout))
		}
		q.Set("limit", formatLimit(p.Limit))

		for {
			var page ykPaymentList
			if err := g.do(ctx, "list_payments", http.MethodGet, "/payments", q, nil, "", &page); err != nil {
				yield(nil, err)
				return
			}
			for i := range page.Items {
				pp, err := page.Items[i].toDomain()
				if err != nil {
					yield(nil, g.decodeErr("list_payments", err))
					return
				}
				if !yield(pp, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			q.Set("cursor", page.NextCursor)
		}
	}
}

func (g *YooKassaGateway) CreatePayment(ctx context.Context, p adapter.CreatePaymentParams, idempotencyKey string) (*model.ProviderPayment, error) {
	if idempotencyKey == "" {
		return nil, &domain.ProviderError{Provider: YooKassaName, Op: "create_payment", Err: domain.ErrProviderInvalidParams, Detail: "empty idempotency key"}
	}
	body := ykCreatePayment{
		Amount:      ykAmount{Value: formatAmount(p.Amount), Currency: string(p.Currency)},
		Capture:     true,
		Description: p.Description,
		Metadata:    p.Metadata.Map(),
	}
	if p.PaymentMethodID != "" {
		// merchant-initiated charge with a saved method, no redirect
		body.PaymentMethodID = p.PaymentMethodID
	} else {
		body.Confirmation = &ykConfirmation{Type: "redirect", ReturnURL: p.ReturnURL}
		if p.PaymentMethodType != "" {
			body.PaymentMethodData = &ykPaymentMethod{Type: p.PaymentMethodType}
		}
		body.SavePaymentMethod = p.SavePaymentMethod
	}
	var out ykPayment
	if err := g.do(ctx, "create_payment", http.MethodPost, "/payments", nil, body, idempotencyKey, &out); err != nil {
		return nil, err
	}
	pp, err := out.toDomain()
	if err != nil {
		return nil, g.decodeErr("create_payment", err)
	}
	return pp, nil
}

func (g *YooKassaGateway) do(ctx context.Context, op, method, path string, q url.Values, in any, idemKey string, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveProviderCall(YooKassaName, op, time.Since(start), err) }()

	u := g.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body []byte
	if in != nil {
		if body, err = json.Marshal(in); err != nil {
			return &domain.ProviderError{Provider: YooKassaName, Op: op, Err: domain.ErrProviderInvalidParams, Detail: err.Error()}
		}
	}
	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return &domain.ProviderError{Provider: YooKassaName, Op: op, Err: domain.ErrProviderInvalidParams, Detail: err.Error()}
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotence-Key", idemKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: YooKassaName, Op: op, Err: domain.ErrProviderUnavailable, Detail: err.Error()}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &domain.ProviderError{Provider: YooKassaName, Op: op, StatusCode: resp.StatusCode, Err: domain.ErrProviderUnavailable, Detail: err.Error()}
	}

	if resp.StatusCode >= 300 {
		return g.statusErr(op, resp.StatusCode, raw)
	}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(out); err != nil {
		return g.decodeErr(op, err)
	}
	return nil
}

func (g *YooKassaGateway) statusErr(op string, code int, raw []byte) error {
	var apiErr ykError
	_ = json.Unmarshal(raw, &apiErr)
	pe := &domain.ProviderError{Provider: YooKassaName, Op: op, StatusCode: code, Detail: apiErr.Description}
	switch {
	case code == http.StatusNotFound:
		pe.Err = domain.ErrNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		pe.Err = domain.ErrProviderUnavailable
	default:
		pe.Err = domain.ErrProviderInvalidParams
		if apiErr.Parameter != "" {
			pe.Detail += " (" + apiErr.Parameter + ")"
		}
	}
	g.log.Warn().Str("op", op).Int("status", code).Str("code", apiErr.Code).Msg("yookassa call failed")
	return pe
}

func (g *YooKassaGateway) decodeErr(op string, err error) error {
	return &domain.ProviderError{Provider: YooKassaName, Op: op, Err: domain.ErrProviderUnavailable, Detail: "decode response: " + err.Error()}
}

// retryLogger adapts zerolog to retryablehttp.LeveledLogger.
type retryLogger struct{ log *zerolog.Logger }

var _ retryablehttp.LeveledLogger = retryLogger{}

func (r retryLogger) Error(msg string, kv ...interface{}) { r.log.Error().Fields(kv).Msg(msg) }
func (r retryLogger) Info(msg string, kv ...interface{})  { r.log.Debug().Fields(kv).Msg(msg) }
func (r retryLogger) Debug(msg string, kv ...interface{}) { r.log.Trace().Fields(kv).Msg(msg) }
func (r retryLogger) Warn(msg string, kv ...interface{})  { r.log.Warn().Fields(kv).Msg(msg) }
