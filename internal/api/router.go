/**
 * @description
 * This file sets up the HTTP router for the wallet service. It defines the client
 * wallet endpoints, the live feed streams, the Telegram webhook and the operational
 * endpoints, and applies the middleware each group needs.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Routing and standard middleware.
 * - github.com/go-chi/cors: CORS for the web client.
 * - github.com/prometheus/client_golang: The /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries everything NewRouter wires together.
type RouterConfig struct {
	Wallet         *WalletHandlers
	Telegram       *TelegramHandlers
	Keys           KeySource
	AllowedOrigins []string
	// Gatherer serves /metrics; nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
}

// NewRouter creates the chi router for the wallet service.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.Telegram != nil {
		r.With(middleware.Timeout(10*time.Second)).Post("/telegram/webhook", cfg.Telegram.WebhookHandler)
	}

	r.Route("/wallet", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Keys))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/deposits", cfg.Wallet.RequestDepositHandler)
			r.Post("/purchases", cfg.Wallet.PurchaseHandler)
			r.Post("/activity", cfg.Wallet.RecordActivityHandler)
			r.Get("/balance", cfg.Wallet.GetBalanceHandler)
			r.Get("/bank", cfg.Wallet.GetBankHandler)
			r.Get("/plans", cfg.Wallet.ListPlansHandler)
			r.Get("/transactions", cfg.Wallet.HistoryHandler)
		})

		// Streams are long lived and stay outside the request timeout.
		r.Get("/balance/stream", cfg.Wallet.BalanceStreamHandler)
		r.Get("/bank/stream", cfg.Wallet.BankStreamHandler)
	})

	return r
}
