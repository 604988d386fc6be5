// Package vectormath implements embedding arithmetic for serendipitous
// discovery: principal-component subtraction, antonym steering and
// cross-domain bridge vectors. The resulting vectors have no text
// equivalent; they are used to rerank broad search pools, never to
// generate queries.
package vectormath

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"tangent/internal/core"
	"tangent/internal/llm"
	"tangent/internal/logger"
)

// domainAnchors are semantically aligned phrases across domains, used
// to compute domain centroids for bridge vectors. Row i of every
// domain expresses the same mood.
var domainAnchors = map[string][]string{
	"restaurant": {
		"cozy restaurant ambiance warmth",
		"fine dining experience elegance",
		"casual eatery atmosphere relaxed",
		"minimalist clean aesthetic dining",
		"chaotic bustling energy food",
	},
	"movie": {
		"comfort film warmth nostalgia",
		"drama cinema elegance artistic",
		"casual comedy relaxed entertainment",
		"minimalist art-house aesthetic cinema",
		"chaotic thriller energy suspense",
	},
	"music": {
		"warm acoustic ambient comfort",
		"classical orchestral elegance refined",
		"casual indie relaxed mellow",
		"minimalist electronic aesthetic clean",
		"chaotic noise experimental energy",
	},
	"book": {
		"cozy literary fiction warmth",
		"literary drama elegance prose",
		"casual reading relaxed light",
		"minimalist poetry aesthetic sparse",
		"chaotic experimental narrative energy",
	},
	"architecture": {
		"warm wooden interior comfort",
		"classical elegant design refined",
		"casual modern relaxed spaces",
		"minimalist brutalist aesthetic clean",
		"chaotic deconstructivist energy bold",
	},
}

// Options tunes the engine. Zero values fall back to sensible defaults.
type Options struct {
	LambdaSurprise float64  // PCA subtraction intensity
	MinMemories    int      // below this, PCA degrades to the centroid
	NumComponents  int      // dominant components to subtract
	AntonymAlpha   float64  // steering strength
	TargetVibes    []string // antonym steering targets
	RerankTopK     int
}

func (o Options) withDefaults() Options {
	if o.LambdaSurprise == 0 {
		o.LambdaSurprise = 1.0
	}
	if o.MinMemories == 0 {
		o.MinMemories = 5
	}
	if o.NumComponents == 0 {
		o.NumComponents = 2
	}
	if o.AntonymAlpha == 0 {
		o.AntonymAlpha = 0.5
	}
	if len(o.TargetVibes) == 0 {
		o.TargetVibes = []string{"relaxation", "novelty", "adventure", "intimacy", "chaos"}
	}
	if o.RerankTopK == 0 {
		o.RerankTopK = 5
	}
	return o
}

// Engine performs the vector operations. Bridge vectors are computed
// once per process since the anchor phrases are static.
type Engine struct {
	embedder llm.EmbeddingService
	opts     Options

	bridgeOnce sync.Once
	bridges    map[[2]string][]float64
	bridgeErr  error
}

// NewEngine creates a vector math engine on top of an embedding service.
func NewEngine(embedder llm.EmbeddingService, opts Options) *Engine {
	return &Engine{embedder: embedder, opts: opts.withDefaults()}
}

// PrincipalComponent computes the serendipity vector by subtracting the
// dominant taste components from the user centroid:
//
//	q = v_user - λ * Σ proj_ei(v_user)  for the top k singular axes
//
// Each subtracted axis is named by the memory that loads it most, so
// downstream synthesis can say what was removed. With fewer memories
// than the minimum, the normalized centroid is returned with no tags.
// A non-positive lambda uses the configured default intensity.
func (e *Engine) PrincipalComponent(ctx context.Context, memories []core.Memory, lambda float64) ([]float64, []string, error) {
	if lambda <= 0 {
		lambda = e.opts.LambdaSurprise
	}
	embeddings, err := e.memoryEmbeddings(ctx, memories)
	if err != nil {
		return nil, nil, err
	}

	if len(embeddings) < e.opts.MinMemories {
		if len(embeddings) == 0 {
			return make([]float64, e.embedder.Dim()), nil, nil
		}
		return Normalize(Centroid(embeddings)), nil, nil
	}

	dim := len(embeddings[0])
	vUser := Centroid(embeddings)

	centered := mat.NewDense(len(embeddings), dim, nil)
	for i, emb := range embeddings {
		for j := range emb {
			centered.Set(i, j, emb[j]-vUser[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		// Singular input: jitter to break the degeneracy and retry.
		for i := 0; i < len(embeddings); i++ {
			for j := 0; j < dim; j++ {
				centered.Set(i, j, centered.At(i, j)+rand.NormFloat64()*1e-9)
			}
		}
		if ok := svd.Factorize(centered, mat.SVDThin); !ok {
			return nil, nil, fmt.Errorf("svd failed to converge")
		}
	}

	var v mat.Dense
	svd.VTo(&v)

	_, nComponents := v.Dims()
	k := e.opts.NumComponents
	if k > nComponents {
		k = nComponents
	}

	q := make([]float64, dim)
	copy(q, vUser)
	tags := make([]string, 0, k)

	for i := 0; i < k; i++ {
		axis := mat.Col(nil, i, &v)
		proj := floats.Dot(vUser, axis)
		floats.AddScaledTo(q, q, -lambda*proj, axis)

		// Name the axis by the memory whose deviation loads it most.
		bestIdx, bestAbs := 0, -1.0
		for m, emb := range embeddings {
			dev := make([]float64, dim)
			floats.SubTo(dev, emb, vUser)
			score := floats.Dot(dev, axis)
			if abs := absFloat(score); abs > bestAbs {
				bestAbs = abs
				bestIdx = m
			}
		}
		tags = append(tags, snippet(memories[bestIdx].Content, 80))
	}

	return Normalize(q), tags, nil
}

// AntonymSteering steers away from the current context towards a target
// vibe, weighted by long-term taste:
//
//	q = v_taste + α * (v_target - v_context)
//
// An empty targetVibe picks one of the configured vibes at random. The
// vibe actually used is returned for provenance.
func (e *Engine) AntonymSteering(ctx context.Context, currentContext string, memories []core.Memory, targetVibe string) ([]float64, string, error) {
	var vTaste []float64
	if len(memories) > 0 {
		embeddings, err := e.memoryEmbeddings(ctx, memories)
		if err != nil {
			return nil, "", err
		}
		vTaste = Centroid(embeddings)
	} else {
		vTaste = make([]float64, e.embedder.Dim())
	}

	if targetVibe == "" {
		targetVibe = e.opts.TargetVibes[rand.Intn(len(e.opts.TargetVibes))]
	}

	vectors, err := e.embedder.Embed(ctx, []string{snippet(currentContext, 4000), targetVibe})
	if err != nil {
		return nil, "", err
	}
	vContext, vTarget := vectors[0], vectors[1]

	q := make([]float64, len(vTaste))
	copy(q, vTaste)
	for i := range q {
		q[i] += e.opts.AntonymAlpha * (vTarget[i] - vContext[i])
	}

	return Normalize(q), targetVibe, nil
}

// BridgeVector transforms content from one domain into another by
// adding the precomputed bridge:
//
//	q = v_content + (centroid(target) - centroid(source))
//
// An unknown domain pair logs a warning and returns the normalized
// content vector unchanged.
func (e *Engine) BridgeVector(ctx context.Context, content, sourceDomain, targetDomain string) ([]float64, error) {
	bridges, err := e.bridgeVectors(ctx)
	if err != nil {
		return nil, err
	}

	vectors, err := e.embedder.Embed(ctx, []string{snippet(content, 4000)})
	if err != nil {
		return nil, err
	}
	vContent := vectors[0]

	bridge, ok := bridges[[2]string{targetDomain, sourceDomain}]
	if !ok {
		logger.Warn("no bridge for domain pair", map[string]any{
			"source": sourceDomain, "target": targetDomain,
		})
		return Normalize(vContent), nil
	}

	q := make([]float64, len(vContent))
	floats.AddTo(q, vContent, bridge)
	return Normalize(q), nil
}

// bridgeVectors lazily computes all pairwise domain bridges from the
// anchor centroids.
func (e *Engine) bridgeVectors(ctx context.Context) (map[[2]string][]float64, error) {
	e.bridgeOnce.Do(func() {
		centroids := make(map[string][]float64, len(domainAnchors))
		for domain, anchors := range domainAnchors {
			embeddings, err := e.embedder.Embed(ctx, anchors)
			if err != nil {
				e.bridgeErr = fmt.Errorf("failed to embed %s anchors: %w", domain, err)
				return
			}
			centroids[domain] = Centroid(embeddings)
		}

		e.bridges = make(map[[2]string][]float64)
		for d1, c1 := range centroids {
			for d2, c2 := range centroids {
				if d1 == d2 {
					continue
				}
				bridge := make([]float64, len(c1))
				floats.SubTo(bridge, c1, c2)
				e.bridges[[2]string{d1, d2}] = bridge
			}
		}
	})
	return e.bridges, e.bridgeErr
}

// RerankByVector reorders results by cosine similarity to the target
// vector and keeps the top k. All candidate texts are embedded in one
// batch call.
func (e *Engine) RerankByVector(ctx context.Context, results []core.SearchResult, target []float64, topK int) ([]core.SearchResult, error) {
	if topK <= 0 {
		topK = e.opts.RerankTopK
	}
	if len(results) == 0 {
		return nil, nil
	}

	texts := make([]string, len(results))
	for i, r := range results {
		if r.Text != "" {
			texts[i] = snippet(r.Text, 2000)
		} else {
			texts[i] = r.Title
		}
	}

	embeddings, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	type scored struct {
		result core.SearchResult
		sim    float64
	}
	pool := make([]scored, len(results))
	for i := range results {
		pool[i] = scored{result: results[i], sim: CosineSimilarity(embeddings[i], target)}
	}
	sort.SliceStable(pool, func(a, b int) bool { return pool[a].sim > pool[b].sim })

	if topK > len(pool) {
		topK = len(pool)
	}
	out := make([]core.SearchResult, topK)
	for i := 0; i < topK; i++ {
		out[i] = pool[i].result
	}
	return out, nil
}

func (e *Engine) memoryEmbeddings(ctx context.Context, memories []core.Memory) ([][]float64, error) {
	if len(memories) == 0 {
		return nil, nil
	}
	texts := make([]string, len(memories))
	for i, m := range memories {
		texts[i] = snippet(m.Content, 2000)
	}
	return e.embedder.Embed(ctx, texts)
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either is zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// Centroid returns the elementwise mean of the vectors.
func Centroid(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		floats.Add(out, v)
	}
	floats.Scale(1/float64(len(vectors)), out)
	return out
}

// Normalize returns v scaled to unit length, with a small floor on the
// norm so zero vectors stay zero instead of dividing by zero.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	norm := floats.Norm(v, 2) + 1e-10
	for i := range v {
		out[i] = v[i] / norm
	}
	return out
}

func snippet(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
