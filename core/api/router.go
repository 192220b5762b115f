// Package api exposes the webhook endpoint and the admin REST API over chi.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/chainbot/core/bots"
	"github.com/m3rciful/chainbot/core/buildinfo"
	"github.com/m3rciful/chainbot/core/chains"
	"github.com/m3rciful/chainbot/core/engine"
	"github.com/m3rciful/chainbot/core/mailing"
)

// Server holds the services behind the HTTP surface.
type Server struct {
	Bots    *bots.Service
	Chains  *chains.Service
	Engine  *engine.Engine
	Mailing *mailing.Service
}

// Router mounts every route under prefix. The health check lives at the root.
func (s *Server) Router(prefix string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, requestContext, summary, recoverer)

	r.Get("/healthz", s.health)

	r.Route(prefix, func(r chi.Router) {
		r.Post("/webhook/{bot_id}", s.webhook)

		r.Route("/bot", func(r chi.Router) {
			r.Post("/", s.createBot)
			r.Get("/", s.listBots)
			r.Get("/{id}", s.getBot)
			r.Patch("/{id}", s.updateBot)
			r.Delete("/{id}", s.deleteBot)
		})

		r.Route("/main-menu", func(r chi.Router) {
			r.Post("/buttons", s.createMenuButton)
			r.Get("/buttons/{id}", s.getMenuButton)
			r.Patch("/buttons/{id}", s.updateMenuButton)
			r.Delete("/buttons/{id}", s.deleteMenuButton)
			r.Get("/{bot_id}", s.getMenu)
			r.Patch("/{bot_id}", s.updateMenu)
		})

		r.Route("/chain", func(r chi.Router) {
			r.Post("/", s.createChain)
			r.Get("/", s.listChains)
			r.Get("/detail/{id}", s.chainDetail)
			r.Get("/results/{id}", s.chainResults)
			r.Get("/{id}", s.getChain)
			r.Patch("/{id}", s.updateChain)
			r.Delete("/{id}", s.deleteChain)
		})

		r.Route("/chain-step", func(r chi.Router) {
			r.Post("/", s.createStep)
			r.Get("/", s.listSteps)
			r.Get("/{id}", s.getStep)
			r.Patch("/{id}", s.updateStep)
			r.Delete("/{id}", s.deleteStep)
		})

		r.Route("/chain-button", func(r chi.Router) {
			r.Post("/", s.createButton)
			r.Get("/", s.listButtons)
			r.Post("/set-next-step/{id}", s.setNextStep)
			r.Get("/{id}", s.getButton)
			r.Patch("/{id}", s.updateButton)
			r.Delete("/{id}", s.deleteButton)
		})

		r.Route("/mailing", func(r chi.Router) {
			r.Post("/{bot_id}/start", s.startMailing)
			r.Get("/{id}/status", s.mailingStatus)
			r.Post("/{id}/cancel", s.cancelMailing)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"build":  buildinfo.Current(),
	})
}
