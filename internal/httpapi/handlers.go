package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgerun/inferedge/internal/apperr"
	"github.com/edgerun/inferedge/internal/pipeline"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), apperr.ToEnvelope(err))
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidRequest, "malformed request body", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.inferenceTimeout)
	defer cancel()

	resp, err := s.pipeline.Handle(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{
		Object: "list",
		Data: []modelInfo{{
			ID:      s.actor.ModelName(),
			Object:  "model",
			OwnedBy: "inferedge-edge",
		}},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
		DeviceID:  s.deviceID,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	llmLoaded := s.actor.IsReady()
	memoryOK := s.store.Ping(r.Context()) == nil
	writeJSON(w, http.StatusOK, readinessResponse{
		Ready:     llmLoaded && memoryOK,
		LLMLoaded: llmLoaded,
		MemoryOK:  memoryOK,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metricsHandler.ServeHTTP(w, r)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	pairs, err := s.store.GetSessionHistory(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	turns := make([]sessionTurn, len(pairs))
	for i, p := range pairs {
		turns[i] = sessionTurn{User: p.UserMessage, Assistant: p.AssistantMessage}
	}
	writeJSON(w, http.StatusOK, sessionHistoryResponse{SessionID: sessionID, Turns: turns})
}

type modelsResponse struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	DeviceID  string `json:"device_id"`
}

type readinessResponse struct {
	Ready     bool `json:"ready"`
	LLMLoaded bool `json:"llm_loaded"`
	MemoryOK  bool `json:"memory_ok"`
}

type sessionTurn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

type sessionHistoryResponse struct {
	SessionID string        `json:"session_id"`
	Turns     []sessionTurn `json:"turns"`
}
