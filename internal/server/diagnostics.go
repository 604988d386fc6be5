package server

import (
	"net/http"
	"strings"

	"tangent/internal/websearch"
)

// Diagnostic endpoints exercising single pipeline stages in isolation.
// Failures come back as 200 with an error field so a curl session stays
// readable.

func (s *Server) handleTestExa(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		query = "transformer architecture machine learning"
	}

	results, err := s.deps.Web.Search(r.Context(), query, websearch.SearchOptions{NumResults: 3})
	if err != nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}

	previews := make([]map[string]any, len(results))
	for i, res := range results {
		preview := res.Text
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		previews[i] = map[string]any{
			"title":       res.Title,
			"url":         res.URL,
			"textPreview": preview,
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"query":      query,
		"numResults": len(results),
		"results":    previews,
	})
}

func (s *Server) handleTestTangential(w http.ResponseWriter, r *http.Request) {
	screenContext := testContext(r)

	tangential, err := s.deps.Extractor.ExtractConcepts(r.Context(), screenContext, "Test")
	if err != nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}
	mainSubject := s.deps.Extractor.ExtractMainSubject(r.Context(), screenContext)

	query := ""
	if len(tangential) > 0 {
		query = strings.Join(tangential[:min(3, len(tangential))], " ")
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"mainSubjectToAvoid":         mainSubject,
		"tangentialConceptsToSearch": tangential,
		"searchQuery":                query,
	})
}

func (s *Server) handleTestVibe(w http.ResponseWriter, r *http.Request) {
	screenContext := testContext(r)
	vibe := s.deps.Extractor.ExtractVibe(r.Context(), screenContext)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"vibe":    vibe,
		"isEmpty": vibe.IsEmpty(),
	})
}

func (s *Server) handleTestOrthogonal(w http.ResponseWriter, r *http.Request) {
	screenContext := testContext(r)

	result, err := s.deps.Router.RouteOrthogonalOnly(r.Context(), screenContext, screenContext)
	if err != nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}

	items := make([]map[string]any, 0, len(result.Items))
	for _, item := range result.Items {
		entry := map[string]any{"content": truncatePreview(item.Content(), 200)}
		if item.Web != nil {
			entry["title"] = item.Web.Title
			entry["url"] = item.Web.URL
		}
		items = append(items, entry)
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"path":       result.Path,
		"confidence": result.Confidence,
		"orthogonal": result.Orthogonal,
		"vibe":       result.Vibe,
		"items":      items,
	})
}

func (s *Server) handleTestContextJudge(w http.ResponseWriter, r *http.Request) {
	screenContext := testContext(r)
	appName := r.URL.Query().Get("appName")
	if appName == "" {
		appName = "Safari"
	}
	windowTitle := r.URL.Query().Get("windowTitle")

	weights := s.deps.Judge.Analyze(r.Context(), screenContext, appName, windowTitle)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"appName": appName,
		"weights": weights,
	})
}

func testContext(r *http.Request) string {
	if c := r.URL.Query().Get("context"); c != "" {
		return c
	}
	return defaultTestContext
}

func truncatePreview(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
