/**
 * @description
 * HTTP router setup for the ledger API using go-chi/chi. Public reads,
 * authenticated donor and provider routes, and operational routes guarded by
 * the internal API key.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Router and standard middleware.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the settings the router needs.
type RouterOptions struct {
	Auth           func(http.Handler) http.Handler
	InternalAPIKey string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates a new Chi router and registers the ledger routes.
func NewRouter(h *Handlers, opts RouterOptions) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Get("/campaigns", h.ListCampaignsHandler)
	r.Get("/campaigns/{id}", h.GetCampaignHandler)
	r.Get("/leaderboard/{kind}", h.GetLeaderboardHandler)

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))
		r.Post("/sweep", h.SweepHandler)
		r.Post("/refunds/recover", h.RecoverRefundsHandler)
		r.Post("/campaigns/{id}/refunds", h.RunRefundSagaHandler)
		r.Post("/propagation/repair", h.RepairPropagationHandler)
	})

	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		r.Post("/campaigns", h.CreateCampaignHandler)
		r.Post("/campaigns/{id}/donations", h.RecordDonationHandler)
		r.Post("/campaigns/{id}/updates", h.AddDistributionUpdateHandler)
		r.Get("/me/donations", h.ListMyDonationsHandler)
		r.Get("/me/campaigns", h.ListMyCampaignsHandler)
	})

	return r
}
