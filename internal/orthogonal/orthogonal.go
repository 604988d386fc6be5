// Package orthogonal implements serendipitous retrieval: strategies
// whose query direction is deliberately not the input query direction.
// Standard search finds content about the same topic; orthogonal search
// finds content that would delight the same type of person.
package orthogonal

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"tangent/internal/concepts"
	"tangent/internal/core"
	"tangent/internal/logger"
	"tangent/internal/vectormath"
	"tangent/internal/websearch"
)

// Options tunes the searcher. Zero values fall back to defaults.
type Options struct {
	NoiseScale     float64
	TargetDomains  []string
	BridgeDomains  []string
	RerankPoolSize int
	PCAMinMemories int
}

func (o Options) withDefaults() Options {
	if o.NoiseScale == 0 {
		o.NoiseScale = 0.15
	}
	if len(o.TargetDomains) == 0 {
		o.TargetDomains = []string{
			"restaurants", "music", "films", "books", "travel",
			"architecture", "fashion", "experiences",
		}
	}
	if len(o.BridgeDomains) == 0 {
		o.BridgeDomains = []string{"restaurant", "movie", "music", "book", "architecture"}
	}
	if o.RerankPoolSize == 0 {
		o.RerankPoolSize = 50
	}
	if o.PCAMinMemories == 0 {
		o.PCAMinMemories = 5
	}
	return o
}

// Searcher runs the six orthogonal strategies.
type Searcher struct {
	web       websearch.Searcher
	extractor *concepts.Extractor
	math      *vectormath.Engine
	opts      Options
}

// NewSearcher creates an orthogonal searcher.
func NewSearcher(web websearch.Searcher, extractor *concepts.Extractor, math *vectormath.Engine, opts Options) *Searcher {
	return &Searcher{web: web, extractor: extractor, math: math, opts: opts.withDefaults()}
}

// SearchWithNoise perturbs the query into an adjacent semantic cluster
// and searches with the perturbed form.
func (s *Searcher) SearchWithNoise(ctx context.Context, query string, numResults int) (core.OrthogonalResult, error) {
	noisy := s.extractor.GenerateNoisyQuery(ctx, query, s.opts.NoiseScale)

	results, err := s.web.Search(ctx, noisy, websearch.SearchOptions{
		NumResults:    numResults,
		UseAutoprompt: true,
	})
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("noise search failed: %w", err)
	}

	return core.OrthogonalResult{
		Items:     results,
		Strategy:  core.StrategyNoise,
		QueryUsed: noisy,
	}, nil
}

// SearchViaArchetype finds content in a different domain that the same
// type of person would love. An empty targetDomain picks one at random,
// avoiding the vibe's source domain.
func (s *Searcher) SearchViaArchetype(ctx context.Context, screenContext string, vibe *core.VibeProfile, targetDomain string, numResults int) (core.OrthogonalResult, error) {
	if vibe == nil {
		v := s.extractor.ExtractVibe(ctx, screenContext)
		vibe = &v
	}
	if vibe.Archetype == "" {
		return core.OrthogonalResult{Strategy: core.StrategyArchetype, Vibe: vibe}, nil
	}

	if targetDomain == "" {
		available := make([]string, 0, len(s.opts.TargetDomains))
		for _, d := range s.opts.TargetDomains {
			if !strings.EqualFold(d, vibe.SourceDomain) {
				available = append(available, d)
			}
		}
		if len(available) == 0 {
			targetDomain = "experiences"
		} else {
			targetDomain = available[rand.Intn(len(available))]
		}
	}

	query, err := s.extractor.GenerateArchetypeQuery(ctx, *vibe, targetDomain)
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("archetype query generation failed: %w", err)
	}

	results, err := s.web.Search(ctx, query, websearch.SearchOptions{
		NumResults:    numResults,
		UseAutoprompt: true,
	})
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("archetype search failed: %w", err)
	}

	return core.OrthogonalResult{
		Items:        results,
		Strategy:     core.StrategyArchetype,
		QueryUsed:    query,
		Vibe:         vibe,
		TargetDomain: targetDomain,
	}, nil
}

// SearchCrossDomain issues one of the vibe's cross-domain interests
// verbatim as a query. Without interests it returns empty.
func (s *Searcher) SearchCrossDomain(ctx context.Context, vibe *core.VibeProfile, numResults int) (core.OrthogonalResult, error) {
	if vibe == nil || len(vibe.CrossDomainInterests) == 0 {
		return core.OrthogonalResult{Strategy: core.StrategyCrossVibe, Vibe: vibe}, nil
	}

	interest := vibe.CrossDomainInterests[rand.Intn(len(vibe.CrossDomainInterests))]

	results, err := s.web.Search(ctx, interest, websearch.SearchOptions{
		NumResults:    numResults,
		UseAutoprompt: true,
	})
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("cross-domain search failed: %w", err)
	}

	return core.OrthogonalResult{
		Items:     results,
		Strategy:  core.StrategyCrossVibe,
		QueryUsed: interest,
		Vibe:      vibe,
	}, nil
}

// SearchPrincipalComponent removes the user's dominant taste via SVD,
// asks the LLM what the residual feels like, fetches a broad pool for
// that description and reranks it against the math vector.
// A non-positive lambda uses the engine's configured intensity.
func (s *Searcher) SearchPrincipalComponent(ctx context.Context, memories []core.Memory, vibe *core.VibeProfile, lambda float64, numResults int) (core.OrthogonalResult, error) {
	if len(memories) < s.opts.PCAMinMemories {
		return core.OrthogonalResult{Strategy: core.StrategyPCA, Vibe: vibe}, nil
	}

	qVector, subtracted, err := s.math.PrincipalComponent(ctx, memories, lambda)
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("pca vector failed: %w", err)
	}

	var vibeValue core.VibeProfile
	if vibe != nil {
		vibeValue = *vibe
	}
	keywords, err := s.extractor.DescribeVectorVibe(ctx, vibeValue, subtracted)
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("vector vibe description failed: %w", err)
	}

	broadQuery := keywords + " experience hidden gem"
	raw, err := s.web.Search(ctx, broadQuery, websearch.SearchOptions{
		NumResults:    s.opts.RerankPoolSize,
		UseAutoprompt: true,
	})
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("pca broad search failed: %w", err)
	}
	if len(raw) == 0 {
		return core.OrthogonalResult{
			Strategy: core.StrategyPCA, QueryUsed: broadQuery,
			Vibe: vibe, SubtractedTags: subtracted,
		}, nil
	}

	reranked, err := s.math.RerankByVector(ctx, raw, qVector, numResults)
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("pca rerank failed: %w", err)
	}

	return core.OrthogonalResult{
		Items:          reranked,
		Strategy:       core.StrategyPCA,
		QueryUsed:      broadQuery,
		Vibe:           vibe,
		SubtractedTags: subtracted,
	}, nil
}

// SearchAntonymSteering steers away from the current context towards a
// target vibe, searches broadly on that vibe and reranks against the
// steering vector.
func (s *Searcher) SearchAntonymSteering(ctx context.Context, screenContext string, memories []core.Memory, vibe *core.VibeProfile, targetVibe string, numResults int) (core.OrthogonalResult, error) {
	qVector, usedVibe, err := s.math.AntonymSteering(ctx, screenContext, memories, targetVibe)
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("antonym vector failed: %w", err)
	}

	broadQuery := usedVibe + " experience unique authentic"
	raw, err := s.web.Search(ctx, broadQuery, websearch.SearchOptions{
		NumResults:    s.opts.RerankPoolSize,
		UseAutoprompt: true,
	})
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("antonym broad search failed: %w", err)
	}
	if len(raw) == 0 {
		return core.OrthogonalResult{
			Strategy: core.StrategyAntonym, QueryUsed: broadQuery,
			Vibe: vibe, TargetVibe: usedVibe,
		}, nil
	}

	reranked, err := s.math.RerankByVector(ctx, raw, qVector, numResults)
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("antonym rerank failed: %w", err)
	}

	return core.OrthogonalResult{
		Items:      reranked,
		Strategy:   core.StrategyAntonym,
		QueryUsed:  broadQuery,
		Vibe:       vibe,
		TargetVibe: usedVibe,
	}, nil
}

// SearchBridgeVector transforms the content into another domain and
// reranks a broad pool against the transformed vector. The broad query
// is flavored with the vibe's emotional signatures.
func (s *Searcher) SearchBridgeVector(ctx context.Context, content, sourceDomain, targetDomain string, vibe *core.VibeProfile, numResults int) (core.OrthogonalResult, error) {
	qVector, err := s.math.BridgeVector(ctx, content, sourceDomain, targetDomain)
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("bridge vector failed: %w", err)
	}

	flavor := "unique"
	if vibe != nil && len(vibe.EmotionalSignatures) > 0 {
		sigs := vibe.EmotionalSignatures
		if len(sigs) > 3 {
			sigs = sigs[:3]
		}
		flavor = strings.Join(sigs, ", ")
	}
	broadQuery := fmt.Sprintf("%s %s hidden gem", targetDomain, flavor)

	raw, err := s.web.Search(ctx, broadQuery, websearch.SearchOptions{
		NumResults:    s.opts.RerankPoolSize,
		UseAutoprompt: true,
	})
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("bridge broad search failed: %w", err)
	}
	if len(raw) == 0 {
		return core.OrthogonalResult{
			Strategy: core.StrategyBridge, QueryUsed: broadQuery,
			Vibe: vibe, TargetDomain: targetDomain,
		}, nil
	}

	reranked, err := s.math.RerankByVector(ctx, raw, qVector, numResults)
	if err != nil {
		return core.OrthogonalResult{}, fmt.Errorf("bridge rerank failed: %w", err)
	}

	return core.OrthogonalResult{
		Items:        reranked,
		Strategy:     core.StrategyBridge,
		QueryUsed:    broadQuery,
		Vibe:         vibe,
		TargetDomain: targetDomain,
	}, nil
}

// SearchAllStrategies runs the LLM strategies always, and the vector
// math strategies when enough user memories exist. Strategies run
// concurrently; a failed strategy is dropped without aborting the rest.
// lambdaSurprise overrides the PCA subtraction intensity; non-positive
// keeps the engine default.
func (s *Searcher) SearchAllStrategies(ctx context.Context, screenContext, originalQuery string, perStrategy int, includeVectorMath bool, memories []core.Memory, lambdaSurprise float64) []core.OrthogonalResult {
	vibe := s.extractor.ExtractVibe(ctx, screenContext)

	tasks := []func() (core.OrthogonalResult, error){
		func() (core.OrthogonalResult, error) {
			return s.SearchWithNoise(ctx, originalQuery, perStrategy)
		},
		func() (core.OrthogonalResult, error) {
			return s.SearchViaArchetype(ctx, screenContext, &vibe, "", perStrategy)
		},
		func() (core.OrthogonalResult, error) {
			return s.SearchCrossDomain(ctx, &vibe, perStrategy)
		},
	}

	if includeVectorMath && len(memories) >= s.opts.PCAMinMemories {
		tasks = append(tasks,
			func() (core.OrthogonalResult, error) {
				return s.SearchPrincipalComponent(ctx, memories, &vibe, lambdaSurprise, perStrategy)
			},
			func() (core.OrthogonalResult, error) {
				return s.SearchAntonymSteering(ctx, screenContext, memories, &vibe, "", perStrategy)
			},
		)

		sourceDomain := vibe.SourceDomain
		if sourceDomain == "" {
			sourceDomain = "content"
		}
		if targetDomain := s.pickBridgeDomain(sourceDomain); targetDomain != "" {
			content := screenContext
			if len(content) > 2000 {
				content = content[:2000]
			}
			tasks = append(tasks, func() (core.OrthogonalResult, error) {
				return s.SearchBridgeVector(ctx, content, sourceDomain, targetDomain, &vibe, perStrategy)
			})
		}
	}

	return s.runConcurrently(tasks)
}

// SearchVectorMathOnly runs just the embedding-arithmetic strategies,
// for maximum mathematical serendipity without the LLM query rewrites.
func (s *Searcher) SearchVectorMathOnly(ctx context.Context, screenContext string, memories []core.Memory, perStrategy int) []core.OrthogonalResult {
	vibe := s.extractor.ExtractVibe(ctx, screenContext)

	var tasks []func() (core.OrthogonalResult, error)
	if len(memories) >= s.opts.PCAMinMemories {
		tasks = append(tasks, func() (core.OrthogonalResult, error) {
			return s.SearchPrincipalComponent(ctx, memories, &vibe, 0, perStrategy)
		})
	}
	tasks = append(tasks, func() (core.OrthogonalResult, error) {
		return s.SearchAntonymSteering(ctx, screenContext, memories, &vibe, "", perStrategy)
	})

	sourceDomain := vibe.SourceDomain
	if sourceDomain == "" {
		sourceDomain = "content"
	}
	if targetDomain := s.pickBridgeDomain(sourceDomain); targetDomain != "" {
		content := screenContext
		if len(content) > 2000 {
			content = content[:2000]
		}
		tasks = append(tasks, func() (core.OrthogonalResult, error) {
			return s.SearchBridgeVector(ctx, content, sourceDomain, targetDomain, &vibe, perStrategy)
		})
	}

	return s.runConcurrently(tasks)
}

func (s *Searcher) pickBridgeDomain(sourceDomain string) string {
	available := make([]string, 0, len(s.opts.BridgeDomains))
	for _, d := range s.opts.BridgeDomains {
		if !strings.EqualFold(d, sourceDomain) {
			available = append(available, d)
		}
	}
	if len(available) == 0 {
		return ""
	}
	return available[rand.Intn(len(available))]
}

func (s *Searcher) runConcurrently(tasks []func() (core.OrthogonalResult, error)) []core.OrthogonalResult {
	results := make([]core.OrthogonalResult, len(tasks))
	failed := make([]bool, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task func() (core.OrthogonalResult, error)) {
			defer wg.Done()
			r, err := task()
			if err != nil {
				logger.Warn("orthogonal strategy failed", map[string]any{"error": err.Error()})
				failed[i] = true
				return
			}
			results[i] = r
		}(i, task)
	}
	wg.Wait()

	valid := make([]core.OrthogonalResult, 0, len(results))
	for i, r := range results {
		if !failed[i] {
			valid = append(valid, r)
		}
	}
	return valid
}

// CombineResults interleaves items round-robin across strategies up to
// maxTotal, preserving within-strategy order, and aggregates
// provenance.
func CombineResults(results []core.OrthogonalResult, maxTotal int) ([]core.SearchResult, core.OrthogonalMeta) {
	var combined []core.SearchResult
	meta := core.OrthogonalMeta{}

	for _, r := range results {
		meta.StrategiesUsed = append(meta.StrategiesUsed, r.Strategy)
		meta.QueriesUsed = append(meta.QueriesUsed, r.QueryUsed)
		meta.SubtractedTags = append(meta.SubtractedTags, r.SubtractedTags...)
		if r.TargetVibe != "" {
			meta.TargetVibes = append(meta.TargetVibes, r.TargetVibe)
		}
	}

	indices := make([]int, len(results))
	for len(combined) < maxTotal {
		added := false
		for i, r := range results {
			if indices[i] < len(r.Items) && len(combined) < maxTotal {
				combined = append(combined, r.Items[indices[i]])
				indices[i]++
				added = true
			}
		}
		if !added {
			break
		}
	}

	return combined, meta
}
