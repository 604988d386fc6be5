package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"tangent/internal/concepts"
	"tangent/internal/core"
	"tangent/internal/llm"
	"tangent/internal/memstore"
	"tangent/internal/orthogonal"
	"tangent/internal/scoring"
	"tangent/internal/vectormath"
	"tangent/internal/websearch"
)

type searchCall struct {
	query string
	opts  memstore.SearchOptions
}

// stubStore replays canned memories. Anchor searches (related
// sidebands included) get the anchor set, blank queries the recent
// set, everything else the matched set.
type stubStore struct {
	mu       sync.Mutex
	calls    []searchCall
	anchors  []core.Memory
	memories []core.Memory
	recent   []core.Memory
	related  map[string][]core.Memory
}

func (s *stubStore) Search(_ context.Context, query string, opts memstore.SearchOptions) ([]core.Memory, error) {
	s.mu.Lock()
	s.calls = append(s.calls, searchCall{query: query, opts: opts})
	s.mu.Unlock()
	if opts.IncludeRelated {
		return s.anchors, nil
	}
	if query == "" {
		return s.recent, nil
	}
	return s.memories, nil
}

func (s *stubStore) Get(_ context.Context, id string) (*core.Memory, error) {
	return &core.Memory{ID: id}, nil
}

func (s *stubStore) GetRelated(_ context.Context, anchorID string, _ []core.EdgeKind) ([]core.Memory, error) {
	return s.related[anchorID], nil
}

func (s *stubStore) Add(_ context.Context, _ string, _ map[string]any, _ string) (string, error) {
	return "new-id", nil
}

func (s *stubStore) List(_ context.Context, _, _ int) ([]core.Memory, memstore.Pagination, error) {
	return nil, memstore.Pagination{}, nil
}

func (s *stubStore) searchCalls() []searchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]searchCall(nil), s.calls...)
}

// stubWeb records search options and replays canned results.
type stubWeb struct {
	mu      sync.Mutex
	results []core.SearchResult
	calls   []websearch.SearchOptions
}

func (s *stubWeb) Search(_ context.Context, _ string, opts websearch.SearchOptions) ([]core.SearchResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, opts)
	s.mu.Unlock()
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

func (s *stubWeb) searchOpts() []websearch.SearchOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]websearch.SearchOptions(nil), s.calls...)
}

type stubLLM struct {
	completeText string
	jsonPayload  string
}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (string, error) {
	return s.completeText, nil
}

func (s *stubLLM) CompleteJSON(_ context.Context, _ llm.CompletionRequest, out any) error {
	return json.Unmarshal([]byte(s.jsonPayload), out)
}

type stubEmbedder struct{ dim int }

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, s.dim)
		v[i%s.dim] = 1
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dim() int { return s.dim }

func newOrthogonalSearcher(web websearch.Searcher) *orthogonal.Searcher {
	svc := &stubLLM{
		completeText: "reworded query",
		jsonPayload:  `{"emotional_signatures":["quiet"],"archetype":"seeker","cross_domain_interests":["field recordings"],"anti_patterns":[],"source_domain":"music"}`,
	}
	extractor := concepts.NewExtractor(svc)
	engine := vectormath.NewEngine(&stubEmbedder{dim: 8}, vectormath.Options{MinMemories: 2})
	return orthogonal.NewSearcher(web, extractor, engine, orthogonal.Options{PCAMinMemories: 2, RerankPoolSize: 4})
}

func newRouter(store memstore.Store, web websearch.Searcher, orth *orthogonal.Searcher, opts Options) *Router {
	return New(store, web, scoring.NewScorer(0.65, 0.85), orth, opts)
}

func TestRouteGraphPivotExcludesEchoAnchor(t *testing.T) {
	store := &stubStore{
		anchors: []core.Memory{{
			ID:         "anchor",
			Content:    "pep guardiola positional play",
			Similarity: 0.90,
			Relationships: []core.Relationship{
				{Kind: core.EdgeExtends, Content: "cruyff"},
			},
		}},
		related: map[string][]core.Memory{
			"anchor": {
				{ID: "n1", Content: "cruyff total football lineage", Similarity: 0.70},
				{ID: "n2", Content: "gegenpressing as a counter-idea", Similarity: 0.70},
			},
		},
	}
	web := &stubWeb{}
	r := newRouter(store, web, nil, Options{})

	result, err := r.Route(context.Background(), "pep guardiola", "ctx", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Path != core.PathGraph {
		t.Errorf("expected graph path, got %s", result.Path)
	}
	if !result.GraphInsight {
		t.Error("graph insight flag should be set")
	}
	if result.Confidence != core.ConfidenceHigh {
		t.Errorf("graph results carry high confidence, got %s", result.Confidence)
	}

	ids := map[string]bool{}
	for _, item := range result.Items {
		if item.Memory == nil {
			t.Fatal("graph path should only return memories")
		}
		ids[item.Memory.ID] = true
	}
	if ids["anchor"] {
		t.Error("echo anchor must not surface in results")
	}
	if !ids["n1"] || !ids["n2"] {
		t.Errorf("both neighbors should surface, got %v", ids)
	}
}

func TestRouteVectorHighConfidence(t *testing.T) {
	store := &stubStore{
		// No anchors, so the graph step finds nothing and the cascade
		// falls through to vector.
		memories: []core.Memory{
			{ID: "m1", Content: "alpha", Similarity: 0.90},
			{ID: "m2", Content: "beta", Similarity: 0.90},
			{ID: "m3", Content: "gamma", Similarity: 0.90},
		},
	}
	web := &stubWeb{}
	r := newRouter(store, web, nil, Options{})

	result, err := r.Route(context.Background(), "alpha", "ctx", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Path != core.PathVector {
		t.Errorf("expected vector path, got %s", result.Path)
	}
	if result.Confidence != core.ConfidenceHigh {
		t.Errorf("avg similarity 0.90 should be high confidence, got %s", result.Confidence)
	}
	if len(web.searchOpts()) != 0 {
		t.Error("high confidence must not reach the web")
	}
}

func TestRouteMediumConfidenceOffersWeb(t *testing.T) {
	store := &stubStore{
		memories: []core.Memory{
			{ID: "m1", Content: "alpha", Similarity: 0.70},
			{ID: "m2", Content: "beta", Similarity: 0.70},
		},
	}
	r := newRouter(store, &stubWeb{}, nil, Options{})

	result, err := r.Route(context.Background(), "alpha", "ctx", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Path != core.PathVector || result.Confidence != core.ConfidenceMedium {
		t.Errorf("expected medium vector result, got %s/%s", result.Path, result.Confidence)
	}
	if !result.ShouldOfferWeb {
		t.Error("medium confidence should offer a web search")
	}
}

func TestRouteFallsBackToWeb(t *testing.T) {
	store := &stubStore{}
	web := &stubWeb{results: []core.SearchResult{
		{Title: "hit", URL: "https://a.example/1", Score: 0.8},
	}}
	r := newRouter(store, web, nil, Options{})

	result, err := r.Route(context.Background(), "unknown topic", "ctx", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Path != core.PathWeb || result.Confidence != core.ConfidenceLow {
		t.Errorf("expected low-confidence web result, got %s/%s", result.Path, result.Confidence)
	}
	opts := web.searchOpts()
	if len(opts) != 1 || opts[0].NumResults != 5 {
		t.Errorf("web fallback should ask for 5 results, got %+v", opts)
	}
}

func TestRouteWeightedBudgetsAndBoosts(t *testing.T) {
	store := &stubStore{
		memories: []core.Memory{
			{ID: "m1", Content: "local memory one", Similarity: 0.80},
			{ID: "m2", Content: "local memory two", Similarity: 0.78},
		},
	}
	routerWeb := &stubWeb{results: []core.SearchResult{
		{Title: "web", URL: "https://web.example/1", Score: 0.9},
	}}
	orthWeb := &stubWeb{results: []core.SearchResult{
		{Title: "orth", URL: "https://orth.example/1", Text: "t", Score: 0.9},
	}}
	r := newRouter(store, routerWeb, newOrthogonalSearcher(orthWeb), Options{})

	weights := core.StrategyWeights{Serendipity: 0.9, Relevance: 0.1, SourceWeb: 0.2, SourceLocal: 0.9}
	result, err := r.RouteWeighted(context.Background(), "query", "screen context", weights)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Path != core.PathWeighted {
		t.Errorf("expected weighted path, got %s", result.Path)
	}

	var localLimit int
	for _, c := range store.searchCalls() {
		if c.query != "" {
			localLimit = c.opts.Limit
		}
	}
	if localLimit != 9 {
		t.Errorf("source_local 0.9 should budget 9 local candidates, got %d", localLimit)
	}

	opts := routerWeb.searchOpts()
	if len(opts) != 1 || opts[0].NumResults != 2 {
		t.Errorf("source_web 0.2 should budget 2 web candidates, got %+v", opts)
	}

	// Orthogonal candidates get the x(1 + 2*0.9) strategy boost, so
	// they outrank equally-scored direct fetches.
	if len(result.Items) == 0 {
		t.Fatal("expected a non-empty pool")
	}
	top := result.Items[0]
	if top.Web == nil || !strings.Contains(top.Web.URL, "orth.example") {
		t.Errorf("orthogonal candidate should rank first, got %+v", top)
	}
	if result.Orthogonal == nil {
		t.Error("orthogonal provenance should be attached")
	}
}

func TestRouteWeightedDistinctFingerprints(t *testing.T) {
	store := &stubStore{
		memories: []core.Memory{
			{ID: "m1", Content: "duplicate body", Similarity: 0.80},
			{ID: "m2", Content: "duplicate body", Similarity: 0.75},
			{ID: "m3", Content: "unique body", Similarity: 0.70},
		},
	}
	r := newRouter(store, &stubWeb{}, nil, Options{MaxSuggestions: 3})

	weights := core.StrategyWeights{Relevance: 0.5, SourceLocal: 0.9}
	result, err := r.RouteWeighted(context.Background(), "query", "ctx", weights)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{}
	for _, item := range result.Items {
		fp := item.Fingerprint()
		if seen[fp] {
			t.Errorf("duplicate fingerprint in output: %q", fp)
		}
		seen[fp] = true
	}
	if len(result.Items) != 2 {
		t.Errorf("expected 2 deduplicated items, got %d", len(result.Items))
	}
}

func TestRouteWeightedNothingDispatched(t *testing.T) {
	store := &stubStore{}
	web := &stubWeb{}
	r := newRouter(store, web, nil, Options{})

	weights := core.StrategyWeights{Serendipity: 0.1, SourceWeb: 0.05, SourceLocal: 0.1}
	result, err := r.RouteWeighted(context.Background(), "query", "ctx", weights)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Items) != 0 {
		t.Errorf("no source above the floor should mean no items, got %d", len(result.Items))
	}
	if result.Confidence != core.ConfidenceLow {
		t.Errorf("empty pool should be low confidence, got %s", result.Confidence)
	}
	if len(store.searchCalls()) != 0 || len(web.searchOpts()) != 0 {
		t.Error("no fetch should be dispatched below the weight floor")
	}
}

func TestRouteOrthogonalOnlyFallsBackToWeb(t *testing.T) {
	web := &stubWeb{results: []core.SearchResult{
		{Title: "hit", URL: "https://a.example/1", Score: 0.8},
	}}
	r := newRouter(&stubStore{}, web, nil, Options{})

	result, err := r.RouteOrthogonalOnly(context.Background(), "query", "ctx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Path != core.PathWeb || result.Confidence != core.ConfidenceLow {
		t.Errorf("expected low-confidence web fallback, got %s/%s", result.Path, result.Confidence)
	}
}

func TestRouteOrthogonalOnlyUsesStrategies(t *testing.T) {
	orthWeb := &stubWeb{results: []core.SearchResult{
		{Title: "orth", URL: "https://orth.example/1", Text: "t", Score: 0.9},
	}}
	r := newRouter(&stubStore{}, &stubWeb{}, newOrthogonalSearcher(orthWeb), Options{})

	result, err := r.RouteOrthogonalOnly(context.Background(), "query", "screen context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Path != core.PathOrthogonal {
		t.Errorf("expected orthogonal path, got %s", result.Path)
	}
	if result.Orthogonal == nil || len(result.Orthogonal.StrategiesUsed) == 0 {
		t.Error("strategy provenance should be attached")
	}
}

func TestTriggerWebSearch(t *testing.T) {
	web := &stubWeb{results: []core.SearchResult{{URL: "https://a.example/1"}}}
	r := newRouter(&stubStore{}, web, nil, Options{})

	results, err := r.TriggerWebSearch(context.Background(), "explicit query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	opts := web.searchOpts()
	if len(opts) != 1 || opts[0].NumResults != 5 {
		t.Errorf("explicit search should ask for 5 results, got %+v", opts)
	}
}
