package main

import (
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/livequiz/go/internal/config"
	"github.com/mcdev12/livequiz/go/internal/identity"
	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg config.Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Grpc-Status", "Grpc-Message", "Connect-Protocol-Version"},
	})

	// Register services
	registerServices(mux, services)

	// Websocket gateway
	services.Gateway.RegisterRoutes(mux)

	// Add health check endpoint
	setupHealthCheck(mux)

	// Wrap with CORS
	handler := c.Handler(mux)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	auth := connect.WithInterceptors(identity.NewInterceptor(services.Issuer, identity.IssueIdentityProcedure))

	// Register identity service
	mux.Handle(identity.NewHandler(services.Identity, auth))

	// Register session service
	mux.Handle(session.NewHandler(services.Sessions, auth))

	// Register player service
	mux.Handle(player.NewHandler(services.Players, auth))
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
