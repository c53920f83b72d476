package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/http/handlers"
	"github.com/advocacyflow/server/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Session      *handlers.SessionHandler
	Phone        *handlers.PhoneHandler
	Distribution *handlers.DistributionHandler
	Engagement   *handlers.EngagementHandler
}

// Stop releases the handlers' rate limiters
func (h Handlers) Stop() {
	h.Session.Stop()
	h.Phone.Stop()
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, authenticator middleware.Authenticator, corsOrigins []string, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(corsOrigins))

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", handlers.HandleRoot)
		r.Get("/posts", h.Engagement.HandleListPosts)
		r.Post("/session", h.Session.HandleStart)

		// Protected routes (require a session token)
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionMiddleware(authenticator))

			r.Post("/phone/verify", h.Phone.HandleVerify)
			r.Post("/phone/resend", h.Phone.HandleResend)
			r.Post("/phone/confirm", h.Phone.HandleConfirm)
			r.Get("/user/{id}/phone", h.Phone.HandleGetPhone)

			r.Post("/whatsapp/send", h.Distribution.HandleWhatsAppSend)
			r.Post("/share", h.Distribution.HandleShare)

			r.Post("/events/track", h.Engagement.HandleTrack)
			r.Get("/stats/{user_id}", h.Engagement.HandleStats)
		})
	})

	return r
}
