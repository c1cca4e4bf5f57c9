/*
server.go - HTTP router and middleware configuration

ROUTER: chi

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     slog request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the web client

  Mutating routes additionally pass RequireAuth, the authorization gate.
  Read routes are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authorization gate and request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, gate Authorizer, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Get("/healthz", h.Health)

	r.Route("/cards", func(r chi.Router) {
		r.Get("/", h.ListCards)
		r.Get("/{cardId}/transactions", h.ListCardTransactions)
	})
	r.Get("/merchants", h.ListMerchants)
	r.Get("/balances", h.GetBalances)

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.ListTransactions)
		r.With(RequireAuth(gate, logger)).Post("/", h.RecordPurchase)
	})
	r.With(RequireAuth(gate, logger)).Post("/settlements", h.Settle)

	return r
}
