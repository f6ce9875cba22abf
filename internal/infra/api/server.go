package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"billing-service/internal/config"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/usecase"
)

// ParserRegistry resolves the webhook parser of a provider by its path name.
type ParserRegistry interface {
	Parser(name string) (adapter.WebhookParser, error)
}

// Server exposes the webhook endpoint and the subscription API.
type Server struct {
	webhooks usecase.WebhookUseCase
	payments usecase.PaymentUseCase
	subs     usecase.SubscriptionUseCase
	parsers  ParserRegistry
	sandbox  SandboxControl // dev only
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewServer(
	webhooks usecase.WebhookUseCase,
	payments usecase.PaymentUseCase,
	subs usecase.SubscriptionUseCase,
	parsers ParserRegistry,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "APIServer").Logger()
	return &Server{
		webhooks: webhooks,
		payments: payments,
		subs:     subs,
		parsers:  parsers,
		validate: newValidator(),
		log:      &l,
	}
}

// Routes attaches all handlers to r. The webhook group is wrapped by the
// source allowlist.
func (s *Server) Routes(r chi.Router, allow Middleware) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		if allow != nil {
			r.Use(allow)
		}
		r.Post("/webhooks/{provider}", s.handleWebhook)
	})

	r.Route("/api/v1/subscriptions", func(r chi.Router) {
		r.Post("/pay-link", s.handlePayLink)
		r.Post("/{id}/pause", s.handlePause)
		r.Post("/{id}/resume", s.handleResume)
		r.Post("/{id}/cancel", s.handleCancel)
	})

	if s.sandbox != nil {
		s.sandboxRoutes(r)
	}
}

// Handler builds the complete router with middlewares. /metrics is mounted
// here when metrics are enabled without a dedicated listener.
func (s *Server) Handler(cfg config.HTTPConfig, metricsCfg config.MetricsConfig, dev bool) (http.Handler, error) {
	allow, err := Allowlist(cfg.WebhookAllowlist, s.log)
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log, dev), Timeout(cfg.RequestTimeout))
	s.Routes(r, allow)
	if metricsCfg.Enabled && metricsCfg.Addr == "" {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// MetricsHandler serves /metrics on its own listener.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

var errUnauthenticated = errors.New("missing " + userHeader + " header")
