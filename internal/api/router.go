package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRouter wires the dashboard page, the JSON API, the websocket feed and
// the metrics endpoint.
func SetupRouter(h *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", h.ServeWebUI)
	r.Get("/healthz", h.Healthz)
	r.Get("/ws", h.HandleWebSocket)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Get("/records/head", h.Head)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/", h.ListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Delete("/", h.DeleteSession)
				r.Put("/params", h.UpdateParams)
				r.Get("/snapshot", h.Snapshot)
				r.Get("/history", h.SnapshotHistory)

				// --> Apply Authentication Middleware to the model and chat endpoints <--
				r.Group(func(r chi.Router) {
					r.Use(h.Auth.Authenticate)
					r.Post("/advice", h.Advice)
					r.Post("/chat", h.SaveChat)
					r.Post("/chat/{name}", h.LoadChat)
				})
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Authenticate)
			r.Get("/chats", h.ListChats)
			r.Get("/chats/{name}", h.GetChat)
		})
	})

	return r
}
