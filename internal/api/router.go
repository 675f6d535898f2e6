package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/config"
	"github.com/hackgods/practicum-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service   AppointmentService
	Notifier  Notifier
	Notices   NoticeAuthorizer
	Tokens    TokenParser
	Health    *HealthHandler
	Metrics   *metrics.Collector
	Gatherer  prometheus.Gatherer
	RateLimit config.RateLimitConfig
	Log       *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log.Named("http"), cfg.Metrics))
	r.Use(RecoverMiddleware(log))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	r.Handle("/metrics", metrics.Handler(cfg.Gatherer))

	appointments := &appointmentHandler{svc: cfg.Service, log: log}
	notifications := &notificationHandler{notifier: cfg.Notifier, authz: cfg.Notices, log: log}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens))
		r.Use(RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", appointments.create)
			r.Get("/", appointments.list)
			r.Get("/{id}", appointments.get)
			r.Put("/{id}", appointments.update)
		})

		r.Post("/notifications/discharge", notifications.discharge)
		r.Post("/notifications/observation", notifications.observation)
	})

	return r
}
