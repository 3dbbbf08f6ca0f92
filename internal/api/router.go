package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking-engine/internal/booking"
)

type RouterConfig struct {
	Service         *booking.Service
	PgPool          *pgxpool.Pool
	Redis           *redis.Client
	Logger          *zap.Logger
	Location        *time.Location
	RateLimitPerSec int
	Env             string
	Version         string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.RateLimitPerSec > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerSec, time.Second))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Get("/appointments/availability", availabilityHandler(cfg.Service))
	r.Get("/appointments/calendar", calendarHandler(cfg.Service))
	r.Post("/appointments", createAppointmentHandler(cfg.Service))
	r.Get("/appointments", listAppointmentsHandler(cfg.Service, cfg.Location))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Patch("/appointments/{id}/status", updateStatusHandler(cfg.Service))
	r.Patch("/appointments/{id}/reschedule", rescheduleHandler(cfg.Service))

	return r
}
