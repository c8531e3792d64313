package api

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"luxeconcierge.com/lead-intake/internal/logging"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/chat", apiHandler.ChatHandler)
		r.Post("/chat/qualify", apiHandler.QualifyHandler)
		r.Post("/conversations/{conversationID}/lead", apiHandler.CreateConversationLeadHandler)

		// Staff routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/leads/intake", apiHandler.IntakeHandler)
			r.Patch("/leads/{leadID}/priority", apiHandler.ChangePriorityHandler)
			r.Patch("/leads/{leadID}/stage", apiHandler.ChangeStageHandler)
			r.Patch("/leads/{leadID}/assignment", apiHandler.ChangeAssignmentHandler)
			r.Post("/leads/{leadID}/recalculate", apiHandler.RecalculateHandler)

			r.Put("/tenants/{tenantID}/customization", apiHandler.PutCustomizationHandler)
		})
	})

	return r
}
