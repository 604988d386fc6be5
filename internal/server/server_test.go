package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tangent/internal/concepts"
	"tangent/internal/config"
	"tangent/internal/core"
	"tangent/internal/decisionlog"
	"tangent/internal/judge"
	"tangent/internal/llm"
	"tangent/internal/memstore"
	"tangent/internal/pipeline"
	"tangent/internal/router"
	"tangent/internal/scoring"
	"tangent/internal/synthesis"
	"tangent/internal/websearch"
)

type stubLLM struct{}

func (s *stubLLM) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	if strings.Contains(req.System, "PRIMARY SUBJECT") {
		return "pep guardiola", nil
	}
	return "rewritten", nil
}

func (s *stubLLM) CompleteJSON(_ context.Context, req llm.CompletionRequest, out any) error {
	payload := `{"title":"t","content":"c","reasoning":"r"}`
	switch {
	case strings.Contains(req.System, "serendipity engine"):
		payload = `{"main_subject":"pep guardiola","tangential_concepts":["positional play","total football"]}`
	case strings.Contains(req.System, "Cognitive State Analyzer"):
		payload = `{"serendipity":0.3,"relevance":0.7,"sourceWeb":0.5,"sourceLocal":0.8,"reasoning":"focused"}`
	case strings.Contains(req.System, "AESTHETIC FINGERPRINT"):
		payload = `{"emotional_signatures":["calm"],"archetype":"seeker","cross_domain_interests":["x"],"anti_patterns":[],"source_domain":"football"}`
	}
	return json.Unmarshal([]byte(payload), out)
}

type stubStore struct {
	mu           sync.Mutex
	memories     []core.Memory
	addedContent string
	addedMeta    map[string]any
	addErr       error
}

func (s *stubStore) Search(_ context.Context, query string, _ memstore.SearchOptions) ([]core.Memory, error) {
	if query == "" {
		return nil, nil
	}
	return s.memories, nil
}

func (s *stubStore) Get(_ context.Context, id string) (*core.Memory, error) {
	return &core.Memory{ID: id}, nil
}

func (s *stubStore) GetRelated(_ context.Context, _ string, _ []core.EdgeKind) ([]core.Memory, error) {
	return nil, nil
}

func (s *stubStore) Add(_ context.Context, content string, metadata map[string]any, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return "", s.addErr
	}
	s.addedContent = content
	s.addedMeta = metadata
	return "mem-123", nil
}

func (s *stubStore) List(_ context.Context, _, _ int) ([]core.Memory, memstore.Pagination, error) {
	return nil, memstore.Pagination{}, nil
}

type stubWeb struct {
	results []core.SearchResult
}

func (s *stubWeb) Search(_ context.Context, _ string, _ websearch.SearchOptions) ([]core.SearchResult, error) {
	return s.results, nil
}

func (s *stubWeb) FindSimilar(_ context.Context, _ string, _ int) ([]core.SearchResult, error) {
	return s.results, nil
}

func (s *stubWeb) GetContents(_ context.Context, _ []string) ([]core.SearchResult, error) {
	return s.results, nil
}

func (s *stubWeb) SearchForConnections(_ context.Context, _ []string, _ string, _ int) ([]core.SearchResult, error) {
	return s.results, nil
}

func newTestServer(t *testing.T, store memstore.Store, web websearch.Searcher) (*Server, *decisionlog.Logger) {
	t.Helper()
	svc := &stubLLM{}
	scorer := scoring.NewScorer(0.65, 0.85)
	extractor := concepts.NewExtractor(svc)
	j := judge.New(svc, "")
	r := router.New(store, web, scorer, nil, router.Options{})
	synth := synthesis.New(svc)
	decisions := decisionlog.New(filepath.Join(t.TempDir(), "decisions.jsonl"))
	ctrl := pipeline.NewController(extractor, j, r, scorer, synth, web, decisions)

	srv := New(Deps{
		Pipeline:  ctrl,
		Router:    r,
		Extractor: extractor,
		Judge:     j,
		Web:       web,
		Store:     store,
		Decisions: decisions,
	}, config.Server{Host: "127.0.0.1", Port: 0})
	return srv, decisions
}

func doRequest(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{}, &stubWeb{})
	rec := doRequest(t, srv, http.MethodGet, "/health", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Service != "tangent" {
		t.Errorf("unexpected health payload: %+v", resp)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	store := &stubStore{memories: []core.Memory{
		{ID: "m1", Content: "positional play notes", Similarity: 0.75},
	}}
	srv, _ := newTestServer(t, store, &stubWeb{})

	rec := doRequest(t, srv, http.MethodPost, "/analyze", pipeline.AnalyzeRequest{
		Context: "Pep Guardiola - Wikipedia", AppName: "Safari", WindowTitle: "Wikipedia",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp pipeline.AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Suggestions) == 0 {
		t.Error("expected suggestions")
	}
	if resp.ProcessingTimeMs < 0 {
		t.Error("timing must be reported")
	}
}

func TestAnalyzeRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{}, &stubWeb{})

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestSearchWebRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{}, &stubWeb{})
	rec := doRequest(t, srv, http.MethodPost, "/search-web", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 without query, got %d", rec.Code)
	}
}

func TestSearchWebEndpoint(t *testing.T) {
	web := &stubWeb{results: []core.SearchResult{
		{Title: "Hit", URL: "https://example.com/1", Text: "body", Score: 0.8},
	}}
	srv, _ := newTestServer(t, &stubStore{}, web)

	rec := doRequest(t, srv, http.MethodPost, "/search-web?query=gegenpressing", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp pipeline.AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RetrievalPath != core.PathWeb {
		t.Errorf("expected web path, got %s", resp.RetrievalPath)
	}
}

func TestSaveToMemoryFormatsContent(t *testing.T) {
	store := &stubStore{}
	srv, _ := newTestServer(t, store, &stubWeb{})

	rec := doRequest(t, srv, http.MethodPost, "/save-to-memory", SaveToMemoryRequest{
		Title:     "Total Football",
		Content:   "A tactical system.",
		SourceURL: "https://example.com/tf",
		Context:   strings.Repeat("c", 600),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "saved" || resp["memoryId"] != "mem-123" {
		t.Errorf("unexpected save response: %v", resp)
	}

	if !strings.HasPrefix(store.addedContent, "# Total Football\n") {
		t.Errorf("content should start with a markdown title, got %q", store.addedContent)
	}
	if !strings.Contains(store.addedContent, "**Source:** https://example.com/tf") {
		t.Error("source url should be embedded")
	}
	if strings.Count(store.addedContent, "c") > 510 {
		t.Error("context should truncate to 500 chars")
	}
	if store.addedMeta["source"] != "tangent_web_search" {
		t.Errorf("unexpected metadata: %v", store.addedMeta)
	}
}

func TestSaveToMemoryRequiresTitleAndContent(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{}, &stubWeb{})
	rec := doRequest(t, srv, http.MethodPost, "/save-to-memory", SaveToMemoryRequest{Title: "only title"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestFeedbackValidation(t *testing.T) {
	srv, decisions := newTestServer(t, &stubStore{}, &stubWeb{})

	rec := doRequest(t, srv, http.MethodPost, "/feedback", FeedbackRequest{
		RequestID: "req-1", InsightID: "s1", Signal: "applause",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown signal should be 422, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/feedback", FeedbackRequest{
		RequestID: "req-1", InsightID: "s1", Signal: core.SignalClick,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	entries, err := decisions.Read(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Type != "feedback" {
		t.Errorf("valid feedback should be logged once, got %v", entries)
	}
}

func TestTestContextJudgeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{}, &stubWeb{})

	rec := doRequest(t, srv, http.MethodPost, "/test-context-judge?appName=Safari", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Weights core.StrategyWeights `json:"weights"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Weights.Serendipity != 0.3 || resp.Weights.Relevance != 0.7 {
		t.Errorf("judge weights should flow through: %+v", resp.Weights)
	}
}

func TestTestTangentialEndpointUsesDefaultContext(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{}, &stubWeb{})

	rec := doRequest(t, srv, http.MethodPost, "/test-tangential", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		MainSubjectToAvoid         string   `json:"mainSubjectToAvoid"`
		TangentialConceptsToSearch []string `json:"tangentialConceptsToSearch"`
		SearchQuery                string   `json:"searchQuery"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.MainSubjectToAvoid != "pep guardiola" {
		t.Errorf("unexpected main subject: %q", resp.MainSubjectToAvoid)
	}
	if len(resp.TangentialConceptsToSearch) == 0 || resp.SearchQuery == "" {
		t.Errorf("tangential extraction should produce a query: %+v", resp)
	}
}

func TestTestVibeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{}, &stubWeb{})

	rec := doRequest(t, srv, http.MethodPost, "/test-vibe", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Vibe    core.VibeProfile `json:"vibe"`
		IsEmpty bool             `json:"isEmpty"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.IsEmpty || resp.Vibe.Archetype != "seeker" {
		t.Errorf("vibe should be extracted: %+v", resp)
	}
}

func TestTestOrthogonalFallsBackToWeb(t *testing.T) {
	web := &stubWeb{results: []core.SearchResult{
		{Title: "Hit", URL: "https://example.com/1", Text: "body", Score: 0.8},
	}}
	srv, _ := newTestServer(t, &stubStore{}, web)

	rec := doRequest(t, srv, http.MethodPost, "/test-orthogonal", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Path  core.RetrievalPath `json:"path"`
		Items []map[string]any   `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Path != core.PathWeb {
		t.Errorf("no orthogonal searcher means web fallback, got %s", resp.Path)
	}
	if len(resp.Items) == 0 {
		t.Error("fallback should carry items")
	}
}
