package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/peerassess/fieldsync/internal/server/config"
)

// NewRouter assembles the HTTP API. Credential endpoints sit behind a
// per-IP rate limit, everything else behind JWT auth.
func NewRouter(cfg *config.Config, h *Handlers, hub *Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", h.HandlePing)

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(cfg.LoginRPS, cfg.LoginBurst))
			r.Post("/auth/register", h.HandleRegister)
			r.Post("/auth/login", h.HandleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(JWTAuth([]byte(cfg.SecretKey)))

			r.Get("/notify", hub.HandleNotify)

			r.Post("/evidence/{id}/uploaded", h.HandleMarkUploaded)
			r.Get("/evidence/{id}/url", h.HandleEvidenceURL)

			r.Get("/{kind}", h.HandleList)
			r.Post("/{kind}", h.HandleCreate)
			r.Get("/{kind}/{id}", h.HandleGet)
			r.Put("/{kind}/{id}", h.HandleUpdate)
			r.Delete("/{kind}/{id}", h.HandleDelete)
		})
	})

	return r
}
