package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"motochefe-engagement/internal/handlers"
	"motochefe-engagement/internal/middleware"
)

type Deps struct {
	JWTAuth        *middleware.JWTAuth
	Engagement     *handlers.EngagementHandler
	Health         *handlers.HealthHandler
	CollectLimiter *middleware.RateLimiter
	WebSocket      http.HandlerFunc
	FrontendURL    string
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{d.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", d.Health.Check)

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Engagement Routes ────
		r.Route("/engagement", func(r chi.Router) {
			r.Use(d.JWTAuth.Middleware)

			r.Group(func(r chi.Router) {
				if d.CollectLimiter != nil {
					r.Use(d.CollectLimiter.Middleware)
				}
				r.Post("/events", d.Engagement.CreateEvent)
				r.Post("/events/batch", d.Engagement.CreateBatch)
			})

			r.Get("/report/{userId}/lesson/{lessonId}", d.Engagement.LessonReport)
			r.Get("/report/{userId}/{courseId}", d.Engagement.CourseReport)
		})

		// ──── WebSocket ────
		if d.WebSocket != nil {
			r.Get("/ws", d.WebSocket)
		}
	})

	return r
}
