package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/infra/logging"
	"billing-service/internal/usecase"
)

// userHeader carries the caller's user id. Authentication happens upstream.
const userHeader = "X-User-ID"

type payLinkRequest struct {
	PlanID            int64  `json:"plan_id" validate:"required,gt=0"`
	PaymentProviderID int64  `json:"payment_provider_id" validate:"required,gt=0"`
	Currency          string `json:"currency" validate:"required,len=3"`
	PaymentMethod     string `json:"payment_method" validate:"omitempty,max=64"`
	ReturnURL         string `json:"return_url" validate:"required,url"`
}

type payLinkResponse struct {
	PaymentID         int64           `json:"payment_id"`
	ExternalPaymentID string          `json:"external_payment_id"`
	ConfirmationURL   string          `json:"confirmation_url"`
	Amount            string          `json:"amount"`
	Currency          string          `json:"currency"`
}

type pauseRequest struct {
	PauseDurationDays int `json:"pause_duration_days" validate:"required,min=1,max=30"`
}

type subscriptionResponse struct {
	ID        int64  `json:"id"`
	PlanID    int64  `json:"plan_id"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
}

func toSubscriptionResponse(s *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:        s.ID,
		PlanID:    s.PlanID,
		Status:    string(s.Status),
		StartedAt: s.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:   s.EndedAt.UTC().Format(time.RFC3339),
	}
}

func userID(r *http.Request) (string, error) {
	uid := strings.TrimSpace(r.Header.Get(userHeader))
	if uid == "" {
		return "", errUnauthenticated
	}
	return uid, nil
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidArgument.Error(), validationDetails(err)...)
		return false
	}
	return true
}

func (s *Server) handlePayLink(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		fail(w, r, s.log, err)
		return
	}
	ctx := logging.WithUserID(r.Context(), uid)

	var req payLinkRequest
	if !s.decode(w, r, &req) {
		return
	}
	currency, err := model.ParseCurrency(req.Currency)
	if err != nil {
		fail(w, r.WithContext(ctx), s.log, err)
		return
	}
	link, err := s.payments.CreatePayLink(ctx, usecase.PayLinkRequest{
		UserID:        uid,
		PlanID:        req.PlanID,
		ProviderID:    req.PaymentProviderID,
		Currency:      currency,
		PaymentMethod: req.PaymentMethod,
		ReturnURL:     req.ReturnURL,
	})
	if err != nil {
		fail(w, r.WithContext(ctx), s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, payLinkResponse{
		PaymentID:         link.PaymentID,
		ExternalPaymentID: link.ExternalPaymentID,
		ConfirmationURL:   link.ConfirmationURL,
		Amount:            link.Amount.StringFixed(2),
		Currency:          string(link.Currency),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	s.mutate(w, r, func(r *http.Request, uid string, id int64) (*model.Subscription, error) {
		return s.subs.Pause(r.Context(), uid, id, req.PauseDurationDays)
	}, &req)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(r *http.Request, uid string, id int64) (*model.Subscription, error) {
		return s.subs.Resume(r.Context(), uid, id)
	}, nil)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(r *http.Request, uid string, id int64) (*model.Subscription, error) {
		return s.subs.Cancel(r.Context(), uid, id)
	}, nil)
}

// mutate runs the shared part of the subscription state endpoints: caller id,
// path id, optional body, and the response.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func(*http.Request, string, int64) (*model.Subscription, error), body any) {
	uid, err := userID(r)
	if err != nil {
		fail(w, r, s.log, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}
	if body != nil && !s.decode(w, r, body) {
		return
	}
	r = r.WithContext(logging.WithUserID(r.Context(), uid))
	sub, err := fn(r, uid, id)
	if err != nil {
		fail(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}
