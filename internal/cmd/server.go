package main

import (
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(services *Services, adminToken string) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	registerRoutes(mux, services, adminToken)
	setupHealthCheck(mux)

	// Wrap with CORS
	handler := c.Handler(mux)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func registerRoutes(mux *http.ServeMux, services *Services, adminToken string) {
	mux.HandleFunc("POST /api/stakes", services.handlePlaceStake)
	mux.HandleFunc("POST /api/stakes/{barcode}/claim", services.handleClaimStake)
	mux.HandleFunc("DELETE /api/stakes/{barcode}", services.handleCancelStake)

	mux.HandleFunc("GET /api/round", services.handleCurrentRound)
	mux.HandleFunc("GET /api/results", services.handleRecentResults)
	mux.HandleFunc("GET /api/users/{user_id}/balance", services.handleBalance)

	mux.HandleFunc("POST /api/admin/override", requireAdmin(adminToken, services.handleSetOverride))

	mux.HandleFunc("GET /ws", services.Manager.HandleWebSocket)
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
