package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rlarsen/althing/internal/auth"
)

// Routes assembles the router: public participant endpoints, the
// websocket feed, and the session-protected facilitator surface.
func Routes(h *Handler, authManager *auth.Manager, ws http.HandlerFunc) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.Health)
	r.Get("/ws", ws)

	// Participant surface: claim links are capabilities, no login.
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Get("/state", h.RunState)
		r.Post("/claim/{token}", h.ClaimRole)
		r.Get("/phases/{phaseID}/remaining", h.PhaseRemaining)
		r.Get("/elections/{sessionID}/remaining", h.ElectionRemaining)
		r.Post("/elections/{sessionID}/vote", h.CastVote)
		r.Get("/allegiance/remaining", h.AllegianceRemaining)
		r.Post("/allegiance/vote", h.SubmitAllegiance)

		// Facilitator surface.
		r.Group(func(r chi.Router) {
			r.Use(authManager.Middleware)

			r.Post("/logout", h.Logout)
			r.Post("/setup", h.SetupRun)
			r.Post("/reset", h.ResetRun)
			r.Post("/schedule", h.Redistribute)

			r.Route("/phases/{phaseID}", func(r chi.Router) {
				r.Post("/start", h.StartPhase)
				r.Post("/pause", h.PausePhase)
				r.Post("/resume", h.ResumePhase)
				r.Post("/end", h.EndPhase)
				r.Post("/skip", h.SkipPhase)
				r.Post("/extend", h.ExtendPhase)
			})

			r.Post("/elections", h.CreateElection)
			r.Route("/elections/{sessionID}", func(r chi.Router) {
				r.Post("/start", h.StartElection)
				r.Post("/stop", h.StopElection)
				r.Post("/reveal", h.RevealElection)
				r.Get("/next-round", h.NextRound)
			})

			r.Route("/allegiance", func(r chi.Router) {
				r.Post("/start", h.StartAllegiance)
				r.Post("/extend", h.ExtendAllegiance)
				r.Post("/stop", h.StopAllegiance)
				r.Post("/manual", h.ManualAllegiance)
				r.Post("/reveal", h.RevealAllegiance)
				r.Get("/counts", h.AllegianceCounts)
			})

			r.Post("/roles/assign", h.AssignRemaining)
			r.Post("/roles/{roleID}/cancel", h.CancelClaim)
			r.Get("/roles/{roleID}/qr", h.RoleQR)
		})
	})

	return r
}
