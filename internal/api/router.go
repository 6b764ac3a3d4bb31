/**
 * @description
 * This file sets up the HTTP router for the ticket-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware for authentication, role checks and scan rate limiting.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/urbantransit/ticket-service/internal/app"
)

// RouterConfig carries the middleware settings for TicketRoutes.
type RouterConfig struct {
	AllowedOrigins []string
	Auth           AuthConfig
	ScanLimiter    app.ScanRateLimiter
	ScansPerMinute int
}

// TicketRoutes creates and returns a new router for the ticket service.
func TicketRoutes(h *TicketHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", userIDHeader, userRoleHeader, deviceIDHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Get("/fares", h.ListFaresHandler)

	r.Group(func(r chi.Router) {
		r.Use(GatewayAuthMiddleware(cfg.Auth))

		// Passenger endpoints
		r.Post("/", h.PurchaseTicketHandler)
		r.Get("/me", h.ListMyTicketsHandler)
		r.Get("/me/stats", h.GetMyStatsHandler)
		r.Get("/me/transfers", h.ListMyTransfersHandler)
		r.Get("/me/refunds", h.ListMyRefundsHandler)
		r.Get("/{id}", h.GetTicketHandler)
		r.Post("/{id}/cancel", h.CancelTicketHandler)
		r.Post("/{id}/transfer", h.TransferTicketHandler)
		r.Get("/{id}/transfers", h.GetTicketTransfersHandler)
		r.Post("/{id}/refund", h.RequestRefundHandler)
		r.Get("/refunds/{refundID}", h.GetRefundHandler)

		// Controller endpoints
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleController))
			r.Post("/{id}/validate", h.ValidateTicketHandler)
			r.Get("/owners/{ownerID}", h.ListOwnerTicketsHandler)
			r.Get("/validations/stats", h.ValidationStatsHandler)
			r.Get("/validations/history", h.ValidationHistoryHandler)

			r.Group(func(r chi.Router) {
				r.Use(ScanRateLimitMiddleware(cfg.ScanLimiter, cfg.ScansPerMinute))
				r.Post("/qr/validate", h.ValidateQRHandler)
				r.Get("/qr/validate/{token}", h.ValidateQRHandler)
			})
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin))
			r.Get("/refunds/pending", h.ListPendingRefundsHandler)
			r.Post("/refunds/{refundID}/decision", h.DecideRefundHandler)
		})
	})

	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"https://*", "http://*"}
	}
	return origins
}
