package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"billing-service/internal/domain"
	"billing-service/internal/infra/logging"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
	TraceID string   `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details ...string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrPlanNotFound),
		errors.Is(err, domain.ErrPriceNotFound),
		errors.Is(err, domain.ErrProviderNotFound),
		errors.Is(err, domain.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case domain.IsProviderError(err):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// fail writes err as JSON. 5xx bodies never carry internal detail, only the
// trace id to look the failure up in the logs.
func fail(w http.ResponseWriter, r *http.Request, base *zerolog.Logger, err error) {
	status := statusFor(err)
	if status >= 500 {
		logging.With(r.Context(), base).Error().Err(err).Msg("request failed")
		msg := "internal error"
		if status == http.StatusBadGateway {
			msg = "payment provider error"
		}
		writeJSON(w, status, errorResponse{Error: msg, TraceID: logging.TraceID(r.Context())})
		return
	}
	writeError(w, status, err.Error())
}

// validationDetails flattens validator errors into "field: tag" strings.
func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+": "+fe.Tag())
	}
	return out
}
