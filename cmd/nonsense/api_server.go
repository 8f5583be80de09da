package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/CTAG07/nonsense/internal/config"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the main application API handlers.
type ServerAPI struct {
	manager    *config.Manager
	actionChan chan<- string
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI(manager *config.Manager, actionChan chan<- string, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		manager:    manager,
		actionChan: actionChan,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for all /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/server/config", a.handleConfig)
	mux.HandleFunc("/api/server/version", a.handleVersion)
	mux.HandleFunc("/api/server/shutdown", a.handleAction(actionShutdown))
	mux.HandleFunc("/api/server/restart", a.handleAction(actionRestart))
}

// handleHealthCheck is left unauthenticated so that container runtimes can probe it.
func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, "GET, HEAD")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig gets or updates the configuration. Updates are validated,
// persisted, and applied to the live models without a restart.
func (a *ServerAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeServerControl) {
			return
		}
		respondWithJSON(w, http.StatusOK, a.manager.Get())
	case http.MethodPut:
		if !requireScope(w, r, scopeServerControl) {
			return
		}
		newConfig := a.manager.Get()
		if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if err := a.manager.Update(newConfig); err != nil {
			if errors.Is(err, config.ErrInvalid) {
				respondWithError(w, http.StatusBadRequest, err.Error())
				return
			}
			requestLogger(r, a.logger).Error("Failed to save configuration", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to save configuration to disk")
			return
		}
		requestLogger(r, a.logger).Info("Configuration updated via API. Storage, address and model list changes apply on restart.")
		respondWithJSON(w, http.StatusOK, a.manager.Get())
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	if !requireScope(w, r, scopeModelRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
}

// handleAction requests a graceful shutdown or restart of the server.
func (a *ServerAPI) handleAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		if !requireScope(w, r, scopeServerControl) {
			return
		}

		requestLogger(r, a.logger).Warn("Server " + action + " initiated via API")
		respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Server " + action + " in progress..."})

		go func() {
			a.actionChan <- action
		}()
	}
}
