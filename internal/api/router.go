package api

import (
	"net/http"
	"time"

	"github.com/example/foodlots/internal/api/middleware"
	"github.com/example/foodlots/internal/auth"
	"github.com/example/foodlots/internal/domain"
	"github.com/example/foodlots/internal/infrastructure/idempotency"
	"github.com/example/foodlots/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// RouterConfig holds the optional collaborators of the router.
type RouterConfig struct {
	JWT         *auth.JWTService
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter
	Idempotency idempotency.Store
	Timeout     time.Duration
	Log         logrus.FieldLogger
}

func NewRouter(handlers *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(chimw.Recoverer)
	r.Use(cfg.Metrics.InstrumentHandler)
	if cfg.Timeout > 0 {
		r.Use(chimw.Timeout(cfg.Timeout))
	}

	r.Get("/healthz", handlers.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	var writes []func(http.Handler) http.Handler
	if cfg.RateLimiter != nil {
		writes = append(writes, cfg.RateLimiter.Handler)
	}
	idempotent := append([]func(http.Handler) http.Handler(nil), writes...)
	if cfg.Idempotency != nil {
		idempotent = append(idempotent, middleware.Idempotency(cfg.Idempotency, cfg.Log))
	}
	producerOnly := middleware.RequireRole(domain.RoleProducer, domain.RoleAdmin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.JWT))

		// Lots
		r.Get("/lotti", handlers.ListLots)
		r.Get("/lotti/{id}", handlers.GetLot)
		r.With(producerOnly).With(idempotent...).Post("/lotti", handlers.CreateLot)

		// Reservations
		r.Get("/prenotazioni", handlers.ListReservations)
		r.Get("/prenotazioni/{id}", handlers.GetReservation)
		r.With(idempotent...).Post("/prenotazioni", handlers.CreateReservation)
		r.With(writes...).Put("/prenotazioni/{id}", handlers.UpdateReservation)
		r.With(writes...).Delete("/prenotazioni/{id}", handlers.CancelReservation)
		r.With(producerOnly).With(writes...).Post("/prenotazioni/{id}/completa", handlers.CompleteReservation)
	})

	return r
}
