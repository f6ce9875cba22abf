package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/infra/logging"
)

// SandboxControl settles payments of the in-memory provider.
type SandboxControl interface {
	Complete(id string) (*model.ProviderPayment, error)
	Cancel(id string) (*model.ProviderPayment, error)
}

// WithSandbox mounts /sandbox/payments/{id}/{complete,cancel}. Each call
// settles the payment at the fake provider and delivers the matching
// notification, the way a real provider would.
func (s *Server) WithSandbox(sb SandboxControl) *Server {
	s.sandbox = sb
	return s
}

func (s *Server) sandboxRoutes(r chi.Router) {
	r.Post("/sandbox/payments/{id}/complete", s.sandboxSettle(s.sandbox.Complete, model.EventPaymentSucceeded))
	r.Post("/sandbox/payments/{id}/cancel", s.sandboxSettle(s.sandbox.Cancel, model.EventPaymentCanceled))
}

func (s *Server) sandboxSettle(settle func(string) (*model.ProviderPayment, error), ev model.WebhookEventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		pp, err := settle(id)
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "payment not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		ctx := logging.WithPaymentID(r.Context(), id)
		res, err := s.webhooks.Handle(ctx, &model.WebhookEvent{Type: ev, Payment: pp})
		if err != nil {
			fail(w, r.WithContext(ctx), s.log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"payment_id": id, "status": string(pp.Status), "result": string(res)})
	}
}
