package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tangent/internal/core"
	"tangent/internal/logger"
	"tangent/internal/pipeline"
)

const defaultTestContext = `Pep Guardiola - Wikipedia
Josep "Pep" Guardiola Sala is a Spanish professional football manager
and former player who is the manager of Manchester City. He is one of
the most successful managers in football history, having won multiple
league titles and Champions League trophies with Barcelona, Bayern Munich,
and Manchester City.`

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// SaveToMemoryRequest asks for a suggestion to be persisted.
type SaveToMemoryRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	SourceURL string `json:"sourceUrl,omitempty"`
	Context   string `json:"context,omitempty"`
}

// FeedbackRequest reports one user reaction to a suggestion.
type FeedbackRequest struct {
	RequestID   string              `json:"requestId"`
	InsightID   string              `json:"insightId"`
	Signal      core.FeedbackSignal `json:"signal"`
	DwellTimeMS *int                `json:"dwellTimeMs,omitempty"`
	Position    *int                `json:"position,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "tangent"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	resp, err := s.deps.Pipeline.Analyze(r.Context(), req)
	if err != nil {
		logger.Error("analyze failed", err, map[string]any{"app": req.AppName})
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchWeb(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "query is required")
		return
	}

	resp, err := s.deps.Pipeline.SearchWeb(r.Context(), query)
	if err != nil {
		logger.Error("web search failed", err, map[string]any{"query": query})
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveToMemory(w http.ResponseWriter, r *http.Request) {
	var req SaveToMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if req.Title == "" || req.Content == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "title and content are required")
		return
	}

	content := fmt.Sprintf("# %s\n\n%s\n", req.Title, req.Content)
	if req.SourceURL != "" {
		content += fmt.Sprintf("\n\n**Source:** %s", req.SourceURL)
	}
	if req.Context != "" {
		found := req.Context
		if len(found) > 500 {
			found = found[:500]
		}
		content += fmt.Sprintf("\n\n**Context when found:** %s...", found)
	}

	metadata := map[string]any{
		"source":     "tangent_web_search",
		"source_url": req.SourceURL,
		"saved_at":   time.Now().UTC().Format(time.RFC3339),
	}

	memoryID, err := s.deps.Store.Add(r.Context(), content, metadata, "")
	if err != nil {
		logger.Error("save to memory failed", err, map[string]any{"title": req.Title})
		s.respondJSON(w, http.StatusOK, map[string]any{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":   "saved",
		"memoryId": memoryID,
		"title":    req.Title,
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if !core.ValidSignal(req.Signal) {
		s.respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid signal: %s", req.Signal))
		return
	}

	s.deps.Decisions.LogFeedback(req.RequestID, req.InsightID, req.Signal, req.DwellTimeMS, req.Position, req.Metadata)

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "recorded",
		"insightId": req.InsightID,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode json response", err, nil)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{
		"error": map[string]any{
			"status":  status,
			"message": message,
		},
	})
}
