package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/servigo/booking-engine/internal/schedule"
)

type RouterConfig struct {
	Service *schedule.Service
	Repo    schedule.Repository
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability rules
	r.Post("/rules", createRuleHandler(cfg.Service, cfg.Repo))
	r.Post("/rules/{id}/expand", expandRuleHandler(cfg.Service))

	// Slots and bookings
	r.Get("/slots", listSlotsHandler(cfg.Service))
	r.Post("/slots/{id}/book", bookSlotHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))

	// Blocked periods and validation
	r.Post("/blocks", createBlockHandler(cfg.Service))
	r.Post("/validate", validateHandler(cfg.Service))

	return r
}
