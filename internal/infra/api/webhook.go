package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"billing-service/internal/domain"
	"billing-service/internal/infra/logging"
	"billing-service/internal/infra/metrics"
)

const maxWebhookBody = 1 << 20

type webhookAck struct {
	Received bool   `json:"received"`
	Result   string `json:"result"`
}

// handleWebhook acknowledges every delivery it could process, including
// duplicates and unknown payments, so the provider stops retrying. Only
// malformed payloads get 4xx and only internal failures get 5xx.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	start := time.Now()
	result := "error"
	defer func() {
		metrics.WebhookRequests.WithLabelValues(provider, result).Inc()
		metrics.WebhookDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()
	log := logging.With(r.Context(), s.log)

	parser, err := s.parsers.Parser(provider)
	if err != nil {
		result = "rejected"
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		result = "rejected"
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if len(body) > maxWebhookBody {
		result = "rejected"
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	event, err := parser.ParseWebhook(body)
	if err != nil {
		result = "rejected"
		log.Warn().Err(err).Str("provider", provider).Msg("malformed webhook")
		writeError(w, http.StatusBadRequest, domain.ErrMalformedEvent.Error())
		return
	}
	if event.Payment != nil {
		r = r.WithContext(logging.WithPaymentID(r.Context(), event.Payment.ID))
	}

	res, err := s.webhooks.Handle(r.Context(), event)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			result = "rejected"
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.With(r.Context(), s.log).Error().Err(err).
			Str("provider", provider).Str("event", string(event.Type)).
			Msg("webhook handling failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	result = string(res)
	writeJSON(w, http.StatusOK, webhookAck{Received: true, Result: result})
}
