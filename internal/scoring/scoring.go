// Package scoring implements the doughnut MMR model: the hole (echo
// chamber, too similar to the screen context) is penalized, the ring
// (semantic overlap with distinct content) is bonused, and the air
// outside is damped. A temporal boost resurfaces forgotten memories.
package scoring

import (
	"math"
	"sort"
	"time"

	"tangent/internal/core"
)

// Scored is one candidate with its final, relevance and novelty scores.
type Scored struct {
	Item      core.Item
	Final     float64
	Relevance float64
	Novelty   float64
}

// Scorer applies doughnut banding and temporal novelty.
type Scorer struct {
	minSimilarity  float64
	maxSimilarity  float64
	echoPenalty    float64
	sweetSpotBonus float64
}

// NewScorer creates a scorer with the given band edges. Non-positive
// edges fall back to the 0.65 / 0.85 defaults.
func NewScorer(minSimilarity, maxSimilarity float64) *Scorer {
	if minSimilarity <= 0 {
		minSimilarity = 0.65
	}
	if maxSimilarity <= 0 {
		maxSimilarity = 0.85
	}
	return &Scorer{
		minSimilarity:  minSimilarity,
		maxSimilarity:  maxSimilarity,
		echoPenalty:    0.5,
		sweetSpotBonus: 1.2,
	}
}

// ApplyMMR bands every item by similarity. Web results have no
// intrinsic similarity, so they get a synthetic rank-based one that
// lands in the sweet spot by construction.
func (s *Scorer) ApplyMMR(items []core.Item) []Scored {
	scored := make([]Scored, 0, len(items))
	for i, item := range items {
		var sim float64
		if item.IsMemory() {
			sim = item.Memory.Similarity
		} else {
			sim = math.Max(s.minSimilarity, s.maxSimilarity-float64(i)*0.05)
		}

		var relevance, novelty float64
		switch {
		case sim >= s.maxSimilarity:
			// Echo chamber.
			relevance = sim * s.echoPenalty
			novelty = 0.2
		case sim >= s.minSimilarity:
			// Sweet spot: novelty runs linearly 1.0 -> 0.5 across the band.
			relevance = sim * s.sweetSpotBonus
			novelty = 1.0 - (sim-s.minSimilarity)/(s.maxSimilarity-s.minSimilarity)
			novelty = math.Max(0.5, math.Min(1.0, novelty))
		default:
			relevance = sim * 0.8
			novelty = 0.8
		}
		relevance = math.Min(1.0, relevance)

		scored = append(scored, Scored{
			Item:      item,
			Final:     relevance,
			Relevance: relevance,
			Novelty:   novelty,
		})
	}
	return scored
}

// ApplyTemporalBoost multiplies memory scores by 1 + ln(days since last
// access) and lifts novelty by a tenth of that, clamped to 1. Web
// results pass through untouched.
func (s *Scorer) ApplyTemporalBoost(scored []Scored, now time.Time) []Scored {
	boosted := make([]Scored, 0, len(scored))
	for _, sc := range scored {
		if sc.Item.IsMemory() && sc.Item.Memory.LastAccessed != nil {
			days := now.Sub(*sc.Item.Memory.LastAccessed).Hours() / 24
			d := math.Max(math.Floor(days), 1)
			lnD := math.Log(d)
			sc.Final *= 1 + lnD
			sc.Novelty = math.Min(1.0, sc.Novelty*(1+lnD/10))
		}
		boosted = append(boosted, sc)
	}
	return boosted
}

// FilterAndRank runs both passes, drops non-positive scores, sorts
// descending by final score and returns the top k.
func (s *Scorer) FilterAndRank(items []core.Item, k int) []Scored {
	if k <= 0 {
		k = 3
	}

	boosted := s.ApplyTemporalBoost(s.ApplyMMR(items), time.Now().UTC())

	valid := make([]Scored, 0, len(boosted))
	for _, sc := range boosted {
		if sc.Final > 0 {
			valid = append(valid, sc)
		}
	}
	sort.SliceStable(valid, func(a, b int) bool { return valid[a].Final > valid[b].Final })

	if k > len(valid) {
		k = len(valid)
	}
	return valid[:k]
}
