package main

import (
	"log/slog"
	"net/http"

	"github.com/CTAG07/nonsense/internal/brain"
	"github.com/CTAG07/nonsense/internal/config"
)

// Server wires the API handlers together.
type Server struct {
	logger    *slog.Logger
	authAPI   *AuthAPI
	modelAPI  *ModelAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

func NewServer(manager *config.Manager, storage *Storage, brains map[string]*brain.Brain, actionChan chan<- string, logger *slog.Logger) *Server {
	server := &Server{
		logger:    logger,
		authAPI:   NewAuthAPI(storage.store, logger),
		modelAPI:  NewModelAPI(brains, storage.models, logger),
		serverAPI: NewServerAPI(manager, actionChan, logger),
		apiMux:    http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.modelAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	return server
}

// Handler returns the root handler of the API.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.logger, s.apiMux)
}
