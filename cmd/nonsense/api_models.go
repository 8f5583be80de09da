package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/CTAG07/nonsense/internal/brain"
	"github.com/CTAG07/nonsense/internal/config"
	"github.com/CTAG07/nonsense/pkg/markov"
)

// maxBodyBytes caps uploaded training text and model files.
const maxBodyBytes = 64 << 20

// ModelAPI holds the dependencies for the model API handlers.
type ModelAPI struct {
	brains map[string]*brain.Brain
	models modelRepository
	logger *slog.Logger
}

// NewModelAPI creates a new instance of the ModelAPI.
func NewModelAPI(brains map[string]*brain.Brain, models modelRepository, logger *slog.Logger) *ModelAPI {
	return &ModelAPI{
		brains: brains,
		models: models,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/models endpoints.
func (m *ModelAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/models", m.handleListModels)
	mux.HandleFunc("/api/models/", m.handleModelByName)
}

// ModelSummary describes one live model.
type ModelSummary struct {
	Name  string       `json:"name"`
	Stats markov.Stats `json:"stats"`
}

// ModelList is the response of GET /api/models.
type ModelList struct {
	Live   []ModelSummary `json:"live"`
	Stored []string       `json:"stored"`
}

// FeedRequest is the expected JSON body for feeding a message.
type FeedRequest struct {
	Text string `json:"text"`
}

// GenerateRequest is the optional JSON body for generating a sentence.
// Omitted limits fall back to the model settings. Limits above
// config.MaxReplyLength or config.MaxAttempts are rejected.
type GenerateRequest struct {
	Limits *markov.Limits `json:"limits,omitempty"`
	Start  string         `json:"start,omitempty"`
}

// GenerateResponse is the JSON response of a successful generation.
type GenerateResponse struct {
	Text string `json:"text"`
}

// PruneRequest is the expected JSON body for pruning a model.
type PruneRequest struct {
	MinWeight int `json:"min_weight"`
}

func (m *ModelAPI) handleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	if !requireScope(w, r, scopeModelRead) {
		return
	}

	list := ModelList{Live: make([]ModelSummary, 0, len(m.brains))}
	for name, b := range m.brains {
		list.Live = append(list.Live, ModelSummary{Name: name, Stats: b.Stats()})
	}
	sort.Slice(list.Live, func(i, j int) bool { return list.Live[i].Name < list.Live[j].Name })

	stored, err := m.models.ListModels(r.Context())
	if err != nil {
		requestLogger(r, m.logger).Error("Failed to list stored models", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve models: %v", err))
		return
	}
	list.Stored = stored
	respondWithJSON(w, http.StatusOK, list)
}

// handleModelByName routes actions for a specific model, e.g. messages,
// generate, train, export.
func (m *ModelAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/models/"), "/")
	parts := strings.Split(path, "/")
	modelName := parts[0]
	if modelName == "" || len(parts) > 2 {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}

	b, live := m.brains[modelName]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			if !requireScope(w, r, scopeModelRead) {
				return
			}
			if !live {
				respondWithError(w, http.StatusNotFound, "Model not found")
				return
			}
			respondWithJSON(w, http.StatusOK, ModelSummary{Name: modelName, Stats: b.Stats()})
		case http.MethodDelete:
			m.deleteModel(w, r, modelName, live)
		default:
			methodNotAllowed(w, "GET, DELETE")
		}
		return
	}

	if !live {
		respondWithError(w, http.StatusNotFound, "Model not found")
		return
	}

	var method, scope string
	var handler func(http.ResponseWriter, *http.Request, *brain.Brain)
	switch parts[1] {
	case "messages":
		method, scope, handler = http.MethodPost, scopeModelWrite, m.handleFeed
	case "generate":
		method, scope, handler = http.MethodPost, scopeModelRead, m.handleGenerate
	case "train":
		method, scope, handler = http.MethodPost, scopeModelWrite, m.handleTrain
	case "export":
		method, scope, handler = http.MethodGet, scopeModelRead, m.handleExport
	case "import":
		method, scope, handler = http.MethodPost, scopeModelWrite, m.handleImport
	case "prune":
		method, scope, handler = http.MethodPost, scopeModelWrite, m.handlePrune
	case "save":
		method, scope, handler = http.MethodPost, scopeModelWrite, m.handleSave
	default:
		respondWithError(w, http.StatusNotFound, "Unknown action")
		return
	}
	if r.Method != method {
		methodNotAllowed(w, method)
		return
	}
	if !requireScope(w, r, scope) {
		return
	}
	handler(w, r, b)
}

// deleteModel removes a stored model. Live models cannot be deleted while
// they are being served.
func (m *ModelAPI) deleteModel(w http.ResponseWriter, r *http.Request, name string, live bool) {
	if !requireScope(w, r, scopeModelWrite) {
		return
	}
	if live {
		respondWithError(w, http.StatusConflict, "Model is being served; remove it from model.names first")
		return
	}
	if err := m.models.RemoveModel(r.Context(), name); err != nil {
		requestLogger(r, m.logger).Error("Failed to remove model", "model_name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove model: %v", err))
		return
	}
	requestLogger(r, m.logger).Info("Model removed", "model_name", name)
	w.WriteHeader(http.StatusNoContent)
}

func (m *ModelAPI) handleFeed(w http.ResponseWriter, r *http.Request, b *brain.Brain) {
	var req FeedRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	res, err := b.Feed(r.Context(), req.Text)
	if err != nil {
		m.brainError(w, r, "Failed to feed message", err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (m *ModelAPI) handleGenerate(w http.ResponseWriter, r *http.Request, b *brain.Brain) {
	var req GenerateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
	}

	limits := b.Settings().Limits
	if req.Limits != nil {
		if err := config.ValidateLimits(*req.Limits); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		limits = *req.Limits
	}
	var opts []markov.SampleOption
	if start := strings.Fields(req.Start); len(start) > 0 {
		opts = append(opts, markov.WithStart(start...))
	}

	text, err := b.GenerateWithin(limits, opts...)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, GenerateResponse{Text: text})
	case errors.Is(err, markov.ErrUnsatisfiable):
		requestLogger(r, m.logger).Debug("Generation unsatisfiable", "model_name", b.Name(), "error", err)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, markov.ErrInvalidRange):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		m.brainError(w, r, "Failed to generate", err)
	}
}

func (m *ModelAPI) handleTrain(w http.ResponseWriter, r *http.Request, b *brain.Brain) {
	stats, err := b.Train(r.Context(), http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		m.brainError(w, r, "Failed to train model", err)
		return
	}
	requestLogger(r, m.logger).Info("Model trained", "model_name", b.Name(), "transitions", stats.Transitions)
	respondWithJSON(w, http.StatusOK, stats)
}

func (m *ModelAPI) handleExport(w http.ResponseWriter, r *http.Request, b *brain.Brain) {
	var err error
	switch r.URL.Query().Get("format") {
	case "yaml":
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.Name()+".yaml"))
		err = markov.ExportYAML(b.Snapshot(), w)
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.Name()+".json"))
		err = markov.ExportJSON(b.Snapshot(), w)
	default:
		respondWithError(w, http.StatusBadRequest, "Unknown export format")
		return
	}
	if err != nil {
		// Headers are already out; all that is left is to log.
		requestLogger(r, m.logger).Error("Failed to export model", "model_name", b.Name(), "error", err)
	}
}

// handleImport merges an uploaded model into the live one.
func (m *ModelAPI) handleImport(w http.ResponseWriter, r *http.Request, b *brain.Brain) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var chain *markov.Chain
	var err error
	switch r.URL.Query().Get("format") {
	case "markovify":
		chain, err = markov.ImportMarkovify(body)
	case "yaml":
		chain, err = markov.ImportYAML(body)
	case "", "json":
		chain, err = markov.ImportJSON(body)
	default:
		respondWithError(w, http.StatusBadRequest, "Unknown import format")
		return
	}
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err = b.Merge(r.Context(), chain); err != nil {
		if errors.Is(err, markov.ErrOrderMismatch) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		m.brainError(w, r, "Failed to merge model", err)
		return
	}
	requestLogger(r, m.logger).Info("Model imported", "model_name", b.Name(), "states", chain.Len())
	respondWithJSON(w, http.StatusOK, b.Stats())
}

func (m *ModelAPI) handlePrune(w http.ResponseWriter, r *http.Request, b *brain.Brain) {
	var req PruneRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if req.MinWeight < 1 {
		respondWithError(w, http.StatusBadRequest, "min_weight must be at least 1")
		return
	}
	stats, err := b.Prune(r.Context(), req.MinWeight)
	if err != nil {
		m.brainError(w, r, "Failed to prune model", err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (m *ModelAPI) handleSave(w http.ResponseWriter, r *http.Request, b *brain.Brain) {
	if err := b.Save(r.Context()); err != nil {
		m.brainError(w, r, "Failed to save model", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *ModelAPI) brainError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, brain.ErrClosed):
		respondWithError(w, http.StatusServiceUnavailable, "Model is shutting down")
		return
	case errors.Is(err, markov.ErrWeightOverflow):
		respondWithError(w, http.StatusConflict, fmt.Sprintf("%s: %v", msg, err))
		return
	}
	requestLogger(r, m.logger).Error(msg, "error", err)
	respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", msg, err))
}
