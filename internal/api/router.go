package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/queue"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Queues       *queue.Service
	PgPool       Pinger        // nil skips the Postgres readiness check
	Redis        *redis.Client // nil skips the Redis readiness check
	Metrics      http.Handler  // served at /metrics when set
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Queue endpoints
	r.Route("/queues/{id}", func(r chi.Router) {
		r.Post("/join", joinQueueHandler(cfg.Queues))
		r.Post("/call-next", callNextHandler(cfg.Queues))
		r.Post("/open", setQueueStatusHandler(cfg.Queues, queue.QueueOpen))
		r.Post("/close", setQueueStatusHandler(cfg.Queues, queue.QueueClosed))
		r.Get("/status", queueStatusHandler(cfg.Queues))
		r.Get("/entries", listWaitingHandler(cfg.Queues))
	})
	r.Route("/queue-entries/{id}", func(r chi.Router) {
		r.Get("/", getEntryHandler(cfg.Queues))
		r.Post("/leave", leaveQueueHandler(cfg.Queues))
		r.Post("/served", entryTransitionHandler(cfg.Queues.MarkServed))
		r.Post("/no-show", entryTransitionHandler(cfg.Queues.MarkNoShow))
	})

	// Appointment endpoints
	r.Post("/appointments", createAppointmentHandler(cfg.Appointments))
	r.Get("/appointments", listAppointmentsHandler(cfg.Appointments))
	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", getAppointmentHandler(cfg.Appointments))
		r.Post("/check-in", checkInHandler(cfg.Appointments))
		r.Post("/cancel", cancelAppointmentHandler(cfg.Appointments))
		r.Post("/no-show", staffTransitionHandler(cfg.Appointments.MarkNoShow))
		r.Post("/complete", staffTransitionHandler(cfg.Appointments.MarkCompleted))
	})
	r.Get("/professionals/{id}/slots", availableSlotsHandler(cfg.Appointments))

	return r
}
