// Package router decides which retrieval strategies answer a request
// and how their candidates are pooled. Three modes exist: the legacy
// cascade with early exit, orthogonal-only, and weighted allocation
// where the judge's weights tilt budgets and ranking boosts instead of
// gating strategies.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tangent/internal/core"
	"tangent/internal/logger"
	"tangent/internal/memstore"
	"tangent/internal/orthogonal"
	"tangent/internal/scoring"
	"tangent/internal/websearch"
)

// budgetBase is the candidate budget split across sources by the
// judge's weights in weighted mode.
const budgetBase = 10

// Options tunes the router. Zero values fall back to defaults.
type Options struct {
	MaxAnchors        int
	MinSimilarity     float64
	MaxSimilarity     float64
	MaxSuggestions    int
	OrthogonalEnabled bool
}

func (o Options) withDefaults() Options {
	if o.MaxAnchors == 0 {
		o.MaxAnchors = 5
	}
	if o.MinSimilarity == 0 {
		o.MinSimilarity = 0.65
	}
	if o.MaxSimilarity == 0 {
		o.MaxSimilarity = 0.85
	}
	if o.MaxSuggestions == 0 {
		o.MaxSuggestions = 3
	}
	return o
}

// Router orchestrates the memory store, web search and orthogonal
// strategies. The orthogonal searcher may be nil, in which case the
// serendipity branches are skipped.
type Router struct {
	store  memstore.Store
	web    websearch.Searcher
	scorer *scoring.Scorer
	orth   *orthogonal.Searcher
	opts   Options
}

// New creates a router.
func New(store memstore.Store, web websearch.Searcher, scorer *scoring.Scorer, orth *orthogonal.Searcher, opts Options) *Router {
	return &Router{store: store, web: web, scorer: scorer, orth: orth, opts: opts.withDefaults()}
}

// Route runs the legacy cascade: orthogonal (when enabled), then graph
// pivot, then vector, then web, with early exit at the first confident
// step.
func (r *Router) Route(ctx context.Context, query, screenContext string, forceWeb bool) (core.CascadeResult, error) {
	if r.opts.OrthogonalEnabled && r.orth != nil {
		if result, ok := r.routeOrthogonalStep(ctx, query, screenContext); ok {
			return result, nil
		}
	}

	graphItems, err := r.checkGraph(ctx, query)
	if err != nil {
		logger.Warn("graph check failed", map[string]any{"error": err.Error()})
	}
	if len(graphItems) > 0 {
		if forceWeb {
			webResults, err := r.web.Search(ctx, query, websearch.SearchOptions{NumResults: 2})
			if err != nil {
				logger.Warn("web supplement failed", map[string]any{"error": err.Error()})
			}
			return core.CascadeResult{
				Items:        append(graphItems, webItems(webResults)...),
				Path:         core.PathGraphPlusWeb,
				Confidence:   core.ConfidenceHigh,
				GraphInsight: true,
			}, nil
		}
		return core.CascadeResult{
			Items:        graphItems,
			Path:         core.PathGraph,
			Confidence:   core.ConfidenceHigh,
			GraphInsight: true,
		}, nil
	}

	vectorItems, confidence, err := r.checkVector(ctx, query)
	if err != nil {
		logger.Warn("vector check failed", map[string]any{"error": err.Error()})
	}
	switch confidence {
	case core.ConfidenceHigh:
		return core.CascadeResult{
			Items:      vectorItems,
			Path:       core.PathVector,
			Confidence: core.ConfidenceHigh,
		}, nil
	case core.ConfidenceMedium:
		return core.CascadeResult{
			Items:          vectorItems,
			Path:           core.PathVector,
			Confidence:     core.ConfidenceMedium,
			ShouldOfferWeb: true,
		}, nil
	}

	webResults, err := r.web.Search(ctx, query, websearch.SearchOptions{NumResults: 5})
	if err != nil {
		if len(vectorItems) > 0 {
			logger.Warn("web fallback failed, returning partial vector results", map[string]any{"error": err.Error()})
			return core.CascadeResult{
				Items:      vectorItems,
				Path:       core.PathVector,
				Confidence: core.ConfidenceLow,
			}, nil
		}
		return core.CascadeResult{}, fmt.Errorf("web fallback failed: %w", err)
	}

	if len(vectorItems) > 0 {
		return core.CascadeResult{
			Items:      append(vectorItems, webItems(webResults)...),
			Path:       core.PathVectorPlusWeb,
			Confidence: core.ConfidenceLow,
		}, nil
	}
	return core.CascadeResult{
		Items:      webItems(webResults),
		Path:       core.PathWeb,
		Confidence: core.ConfidenceLow,
	}, nil
}

// routeOrthogonalStep tries the serendipity strategies first. A
// non-empty orthogonal pool merged with graph insights is the strongest
// signal the cascade can produce.
func (r *Router) routeOrthogonalStep(ctx context.Context, query, screenContext string) (core.CascadeResult, bool) {
	results := r.orth.SearchAllStrategies(ctx, screenContext, query, 2, false, nil, 0)
	combined, meta := orthogonal.CombineResults(results, max(r.opts.MaxSuggestions, 2))
	if len(combined) == 0 {
		return core.CascadeResult{}, false
	}

	graphItems, err := r.checkGraph(ctx, query)
	if err != nil {
		logger.Warn("graph check failed", map[string]any{"error": err.Error()})
	}
	if len(graphItems) > 0 {
		items := webItems(combined[:min(2, len(combined))])
		items = append(items, graphItems[:min(2, len(graphItems))]...)
		return core.CascadeResult{
			Items:        items,
			Path:         core.PathOrthogonalPlus,
			Confidence:   core.ConfidenceHigh,
			GraphInsight: true,
			Orthogonal:   &meta,
			Vibe:         firstVibe(results),
		}, true
	}

	return core.CascadeResult{
		Items:      webItems(combined[:min(r.opts.MaxSuggestions, len(combined))]),
		Path:       core.PathOrthogonal,
		Confidence: core.ConfidenceMedium,
		Orthogonal: &meta,
		Vibe:       firstVibe(results),
	}, true
}

// RouteOrthogonalOnly runs only the serendipity strategies, falling
// back to a plain web search at low confidence when they produce
// nothing.
func (r *Router) RouteOrthogonalOnly(ctx context.Context, query, screenContext string) (core.CascadeResult, error) {
	if r.orth != nil {
		results := r.orth.SearchAllStrategies(ctx, screenContext, query, 2, false, nil, 0)
		combined, meta := orthogonal.CombineResults(results, r.opts.MaxSuggestions)
		if len(combined) > 0 {
			return core.CascadeResult{
				Items:      webItems(combined),
				Path:       core.PathOrthogonal,
				Confidence: core.ConfidenceMedium,
				Orthogonal: &meta,
				Vibe:       firstVibe(results),
			}, nil
		}
	}

	webResults, err := r.web.Search(ctx, query, websearch.SearchOptions{NumResults: 5})
	if err != nil {
		return core.CascadeResult{}, fmt.Errorf("orthogonal web fallback failed: %w", err)
	}
	return core.CascadeResult{
		Items:      webItems(webResults),
		Path:       core.PathWeb,
		Confidence: core.ConfidenceLow,
	}, nil
}

// RouteWeighted is the preferred mode. The judge's weights decide how
// many candidates each source may contribute and how much the ranker
// favors them; no strategy is hard-gated above the 0.1 floor.
func (r *Router) RouteWeighted(ctx context.Context, query, screenContext string, weights core.StrategyWeights) (core.CascadeResult, error) {
	weights = weights.Clamp()

	limitWeb := sourceBudget(weights.SourceWeb)
	limitLocal := sourceBudget(weights.SourceLocal)
	orthBudget := min(3, limitWeb+limitLocal)
	runOrthogonal := weights.Serendipity > 0.2 && r.orth != nil && orthBudget > 0

	var (
		wg             sync.WaitGroup
		orthCandidates []core.ScoredCandidate
		orthMeta       *core.OrthogonalMeta
		orthVibe       *core.VibeProfile
		localCands     []core.ScoredCandidate
		webCands       []core.ScoredCandidate
	)

	if runOrthogonal {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Recency probe: vector math strategies need the user's
			// recent taste, not query-matched memories.
			recent, err := r.store.Search(ctx, "", memstore.SearchOptions{Limit: 20})
			if err != nil {
				logger.Warn("recent memory probe failed", map[string]any{"error": err.Error()})
			}
			results := r.orth.SearchAllStrategies(ctx, screenContext, query, orthBudget, len(recent) > 0, recent, 1.5*weights.Serendipity)
			combined, meta := orthogonal.CombineResults(results, orthBudget)
			for _, sr := range combined {
				orthCandidates = append(orthCandidates, core.ScoredCandidate{
					Item:     core.WebItem(sr),
					Source:   core.CandidateWeb,
					Strategy: core.StrategyOrthogonal,
					RawScore: sr.Score,
				})
			}
			if len(combined) > 0 {
				orthMeta = &meta
				orthVibe = firstVibe(results)
			}
		}()
	}

	if limitLocal > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			memories, err := r.store.Search(ctx, query, memstore.SearchOptions{Limit: limitLocal})
			if err != nil {
				logger.Warn("local fetch failed", map[string]any{"error": err.Error()})
				return
			}
			for _, m := range memories {
				localCands = append(localCands, core.ScoredCandidate{
					Item:     core.MemoryItem(m),
					Source:   core.CandidateLocal,
					Strategy: core.StrategyVector,
					RawScore: m.Similarity,
				})
			}
		}()
	}

	if limitWeb > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := r.web.Search(ctx, query, websearch.SearchOptions{NumResults: limitWeb})
			if err != nil {
				logger.Warn("web fetch failed", map[string]any{"error": err.Error()})
				return
			}
			for _, sr := range results {
				webCands = append(webCands, core.ScoredCandidate{
					Item:     core.WebItem(sr),
					Source:   core.CandidateWeb,
					Strategy: core.StrategyVector,
					RawScore: sr.Score,
				})
			}
		}()
	}

	wg.Wait()

	pool := make([]core.ScoredCandidate, 0, len(orthCandidates)+len(localCands)+len(webCands))
	pool = append(pool, orthCandidates...)
	pool = append(pool, localCands...)
	pool = append(pool, webCands...)

	for i := range pool {
		pool[i].AdjScore = adjustScore(pool[i], weights)
	}

	pool = dedupeByFingerprint(pool)
	sort.SliceStable(pool, func(a, b int) bool { return pool[a].AdjScore > pool[b].AdjScore })
	if len(pool) > r.opts.MaxSuggestions {
		pool = pool[:r.opts.MaxSuggestions]
	}

	items := make([]core.Item, len(pool))
	for i, c := range pool {
		items[i] = c.Item
	}

	return core.CascadeResult{
		Items:      items,
		Path:       core.PathWeighted,
		Confidence: weightedConfidence(pool),
		Orthogonal: orthMeta,
		Vibe:       orthVibe,
	}, nil
}

// TriggerWebSearch issues an explicit web query, for the user-facing
// search button.
func (r *Router) TriggerWebSearch(ctx context.Context, query string) ([]core.SearchResult, error) {
	return r.web.Search(ctx, query, websearch.SearchOptions{NumResults: 5})
}

// checkGraph implements the graph pivot: anchors too similar to the
// query are an echo chamber, so their graph neighbors are surfaced
// instead, alongside sweet-spot anchors kept directly.
func (r *Router) checkGraph(ctx context.Context, query string) ([]core.Item, error) {
	anchors, err := r.store.Search(ctx, query, memstore.SearchOptions{
		Limit:          r.opts.MaxAnchors,
		IncludeRelated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("anchor search failed: %w", err)
	}
	if len(anchors) == 0 {
		return nil, nil
	}

	var echo, sweet []core.Memory
	for _, a := range anchors {
		switch {
		case a.Similarity >= r.opts.MaxSimilarity:
			echo = append(echo, a)
		case a.Similarity >= r.opts.MinSimilarity:
			sweet = append(sweet, a)
		}
	}

	pivotKinds := []core.EdgeKind{core.EdgeDerives, core.EdgeExtends, core.EdgeContrast}

	pivots := echo
	if len(pivots) > 3 {
		pivots = pivots[:3]
	}
	neighborSets := make([][]core.Memory, len(pivots))
	var wg sync.WaitGroup
	for i, anchor := range pivots {
		wg.Add(1)
		go func(i int, anchorID string) {
			defer wg.Done()
			related, err := r.store.GetRelated(ctx, anchorID, pivotKinds)
			if err != nil {
				logger.Warn("neighbor fetch failed", map[string]any{"anchor": anchorID, "error": err.Error()})
				return
			}
			neighborSets[i] = related
		}(i, anchor.ID)
	}
	wg.Wait()

	var neighbors []core.Memory
	for _, set := range neighborSets {
		neighbors = append(neighbors, set...)
	}

	for _, anchor := range sweet {
		if len(anchor.Relationships) == 0 {
			continue
		}
		related, err := r.store.GetRelated(ctx, anchor.ID, pivotKinds)
		if err != nil {
			logger.Warn("neighbor fetch failed", map[string]any{"anchor": anchor.ID, "error": err.Error()})
			continue
		}
		neighbors = append(neighbors, related...)
	}

	// Sweet-spot anchors plus neighbors; echo anchors never surface.
	seen := make(map[string]bool)
	var items []core.Item
	for _, m := range append(append([]core.Memory{}, sweet...), neighbors...) {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		items = append(items, core.MemoryItem(m))
	}
	if len(items) == 0 {
		return nil, nil
	}

	scored := r.scorer.FilterAndRank(items, r.opts.MaxSuggestions)
	return itemsFromScored(scored), nil
}

// checkVector runs a direct similarity search and derives confidence
// from the average of the top-3 similarities.
func (r *Router) checkVector(ctx context.Context, query string) ([]core.Item, core.ConfidenceLevel, error) {
	memories, err := r.store.Search(ctx, query, memstore.SearchOptions{Limit: 5})
	if err != nil {
		return nil, core.ConfidenceLow, fmt.Errorf("vector search failed: %w", err)
	}
	if len(memories) == 0 {
		return nil, core.ConfidenceLow, nil
	}

	top := memories
	if len(top) > 3 {
		top = top[:3]
	}
	var sum float64
	for _, m := range top {
		sum += m.Similarity
	}
	avg := sum / float64(len(top))

	confidence := core.ConfidenceLow
	switch {
	case avg > 0.85:
		confidence = core.ConfidenceHigh
	case avg >= 0.65:
		confidence = core.ConfidenceMedium
	}

	items := make([]core.Item, len(memories))
	for i, m := range memories {
		items[i] = core.MemoryItem(m)
	}
	scored := r.scorer.FilterAndRank(items, r.opts.MaxSuggestions)
	return itemsFromScored(scored), confidence, nil
}

// sourceBudget converts a source weight into a candidate count. Weights
// at or below the 0.1 floor contribute nothing; above it, at least one.
func sourceBudget(weight float64) int {
	if weight <= 0.1 {
		return 0
	}
	return max(1, int(budgetBase*weight))
}

// adjustScore applies the two multiplicative boosts: source match and
// strategy match.
func adjustScore(c core.ScoredCandidate, w core.StrategyWeights) float64 {
	adj := c.RawScore
	if c.Source == core.CandidateWeb {
		adj *= 1 + w.SourceWeb
	} else {
		adj *= 1 + w.SourceLocal
	}
	if c.Strategy == core.StrategyOrthogonal {
		adj *= 1 + 2*w.Serendipity
	} else {
		adj *= 1 + w.Relevance
	}
	return adj
}

// dedupeByFingerprint keeps the higher-scored duplicate per content
// fingerprint, preserving first-seen order.
func dedupeByFingerprint(pool []core.ScoredCandidate) []core.ScoredCandidate {
	best := make(map[string]int)
	var out []core.ScoredCandidate
	for _, c := range pool {
		fp := c.Item.Fingerprint()
		if fp == "" {
			continue
		}
		if idx, ok := best[fp]; ok {
			if c.AdjScore > out[idx].AdjScore {
				out[idx] = c
			}
			continue
		}
		best[fp] = len(out)
		out = append(out, c)
	}
	return out
}

func weightedConfidence(top []core.ScoredCandidate) core.ConfidenceLevel {
	if len(top) == 0 {
		return core.ConfidenceLow
	}
	var sum float64
	for _, c := range top {
		sum += c.AdjScore
	}
	avg := sum / float64(len(top))
	switch {
	case avg > 1.5:
		return core.ConfidenceHigh
	case avg > 1.0:
		return core.ConfidenceMedium
	}
	return core.ConfidenceLow
}

func webItems(results []core.SearchResult) []core.Item {
	items := make([]core.Item, len(results))
	for i, r := range results {
		items[i] = core.WebItem(r)
	}
	return items
}

func itemsFromScored(scored []scoring.Scored) []core.Item {
	items := make([]core.Item, len(scored))
	for i, s := range scored {
		items[i] = s.Item
	}
	return items
}

func firstVibe(results []core.OrthogonalResult) *core.VibeProfile {
	for _, r := range results {
		if r.Vibe != nil {
			return r.Vibe
		}
	}
	return nil
}
