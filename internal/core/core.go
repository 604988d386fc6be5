package core

import (
	"time"
	"unicode/utf8"
)

// SuggestionSource identifies which retrieval family produced a suggestion.
type SuggestionSource string

const (
	SourceLocal      SuggestionSource = "local"
	SourceWeb        SuggestionSource = "web"
	SourceOrthogonal SuggestionSource = "orthogonal"
)

// RetrievalPath records which routing path produced a result set.
type RetrievalPath string

const (
	PathGraph          RetrievalPath = "graph"
	PathVector         RetrievalPath = "vector"
	PathWeb            RetrievalPath = "web"
	PathGraphPlusWeb   RetrievalPath = "graph_plus_web"
	PathVectorPlusWeb  RetrievalPath = "vector_plus_web"
	PathOrthogonal     RetrievalPath = "orthogonal"
	PathOrthogonalPlus RetrievalPath = "orthogonal_plus_graph"
	PathWeighted       RetrievalPath = "weighted"
)

// ConfidenceLevel expresses how much the router trusts its result set.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Strategy tags a candidate with the retrieval strategy that found it.
type Strategy string

const (
	StrategyOrthogonal Strategy = "orthogonal"
	StrategyVector     Strategy = "vector"
	StrategyGraph      Strategy = "graph"
	StrategyNoise      Strategy = "noise_injection"
	StrategyArchetype  Strategy = "archetype_bridge"
	StrategyCrossVibe  Strategy = "cross_domain"
	StrategyPCA        Strategy = "pca"
	StrategyAntonym    Strategy = "antonym"
	StrategyBridge     Strategy = "bridge"
)

// EdgeKind is the relationship type on a memory graph edge.
type EdgeKind string

const (
	EdgeExtends      EdgeKind = "extends"
	EdgeUpdates      EdgeKind = "updates"
	EdgeDerives      EdgeKind = "derives"
	EdgeContrast     EdgeKind = "contrast"
	EdgeChildExtends EdgeKind = "child_extends"
	EdgeChildUpdates EdgeKind = "child_updates"
	EdgeChildDerives EdgeKind = "child_derives"
)

// Relationship is one typed edge from a memory to a neighbor.
type Relationship struct {
	Kind    EdgeKind `json:"kind"`
	Content string   `json:"content"`
	Version int      `json:"version,omitempty"`
}

// Memory is a unit of long-term user knowledge, owned by the external
// memory store. Similarity is populated only when the memory came back
// from a search.
type Memory struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	Similarity    float64        `json:"similarity"`
	CreatedAt     *time.Time     `json:"createdAt,omitempty"`
	LastAccessed  *time.Time     `json:"lastAccessed,omitempty"`
	SourceDocID   string         `json:"sourceDocId,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// SearchResult is a unit of web knowledge. URL is its identity.
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"publishedDate,omitempty"`
}

// Item is anything the pipeline can score and synthesize: a Memory or a
// SearchResult. Exactly one of the accessors returns non-nil.
type Item struct {
	Memory *Memory
	Web    *SearchResult
}

// IsMemory reports whether the item wraps a local memory.
func (it Item) IsMemory() bool { return it.Memory != nil }

// Content returns the item's primary text.
func (it Item) Content() string {
	if it.Memory != nil {
		return it.Memory.Content
	}
	if it.Web != nil {
		if it.Web.Text != "" {
			return it.Web.Text
		}
		return it.Web.Title
	}
	return ""
}

// Fingerprint is the dedupe identity used by the weighted router: the
// first 100 content bytes for memories, the URL for web results.
func (it Item) Fingerprint() string {
	if it.Memory != nil {
		return Truncate(it.Memory.Content, 100)
	}
	if it.Web != nil {
		return it.Web.URL
	}
	return ""
}

// Truncate cuts s to at most n bytes, backing off so a multi-byte rune
// is never split.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// MemoryItem wraps a memory as a pipeline item.
func MemoryItem(m Memory) Item {
	mm := m
	return Item{Memory: &mm}
}

// WebItem wraps a web result as a pipeline item.
func WebItem(r SearchResult) Item {
	rr := r
	return Item{Web: &rr}
}

// VibeProfile is the abstract aesthetic fingerprint of a piece of
// content. Immutable after construction.
type VibeProfile struct {
	EmotionalSignatures  []string `json:"emotionalSignatures"`
	Archetype            string   `json:"archetype"`
	CrossDomainInterests []string `json:"crossDomainInterests"`
	AntiPatterns         []string `json:"antiPatterns"`
	SourceDomain         string   `json:"sourceDomain"`
}

// IsEmpty reports whether vibe extraction produced nothing usable.
func (v VibeProfile) IsEmpty() bool {
	return v.Archetype == "" && len(v.EmotionalSignatures) == 0 && len(v.CrossDomainInterests) == 0
}

// StrategyWeights are four independent intensities in [0,1] produced by
// the context judge. They are allocations, not probabilities: they do
// not need to sum to 1.
type StrategyWeights struct {
	Serendipity float64 `json:"serendipity"`
	Relevance   float64 `json:"relevance"`
	SourceWeb   float64 `json:"sourceWeb"`
	SourceLocal float64 `json:"sourceLocal"`
	Reasoning   string  `json:"reasoning"`
}

// Clamp forces every weight into [0,1]. The judge never returns weights
// outside that range, whatever the LLM said.
func (w StrategyWeights) Clamp() StrategyWeights {
	w.Serendipity = clamp01(w.Serendipity)
	w.Relevance = clamp01(w.Relevance)
	w.SourceWeb = clamp01(w.SourceWeb)
	w.SourceLocal = clamp01(w.SourceLocal)
	return w
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// CandidateSource tags where a scored candidate came from.
type CandidateSource string

const (
	CandidateWeb   CandidateSource = "web"
	CandidateLocal CandidateSource = "local"
	CandidateMixed CandidateSource = "mixed"
)

// ScoredCandidate is the internal wrapper used during weighted routing.
type ScoredCandidate struct {
	Item     Item
	Source   CandidateSource
	Strategy Strategy
	RawScore float64
	AdjScore float64
}

// Suggestion is the externally exposed result of the pipeline.
type Suggestion struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Content        string           `json:"content"`
	Reasoning      string           `json:"reasoning"`
	Source         SuggestionSource `json:"source"`
	RelevanceScore float64          `json:"relevanceScore"`
	NoveltyScore   float64          `json:"noveltyScore"`
	Timestamp      time.Time        `json:"timestamp"`
	SourceURL      string           `json:"sourceUrl,omitempty"`
}

// OrthogonalMeta aggregates provenance across the orthogonal strategies
// that contributed to a result set.
type OrthogonalMeta struct {
	StrategiesUsed []Strategy `json:"strategiesUsed"`
	QueriesUsed    []string   `json:"queriesUsed"`
	SubtractedTags []string   `json:"subtractedTags,omitempty"`
	TargetVibes    []string   `json:"targetVibes,omitempty"`
}

// CascadeResult is the routing outcome handed back to the controller.
type CascadeResult struct {
	Items          []Item
	Path           RetrievalPath
	Confidence     ConfidenceLevel
	GraphInsight   bool
	ShouldOfferWeb bool
	Orthogonal     *OrthogonalMeta
	Vibe           *VibeProfile
}

// OrthogonalResult carries one strategy's items plus provenance.
type OrthogonalResult struct {
	Items          []SearchResult
	Strategy       Strategy
	QueryUsed      string
	Vibe           *VibeProfile
	TargetDomain   string
	SubtractedTags []string
	TargetVibe     string
}

// FeedbackSignal enumerates the user feedback kinds the decision log
// accepts.
type FeedbackSignal string

const (
	SignalClick      FeedbackSignal = "click"
	SignalDwell      FeedbackSignal = "dwell"
	SignalDismiss    FeedbackSignal = "dismiss"
	SignalScrollPast FeedbackSignal = "scroll_past"
	SignalThumbsUp   FeedbackSignal = "thumbs_up"
	SignalThumbsDown FeedbackSignal = "thumbs_down"
	SignalSave       FeedbackSignal = "save"
)

// ValidSignal reports whether s is one of the accepted feedback kinds.
func ValidSignal(s FeedbackSignal) bool {
	switch s {
	case SignalClick, SignalDwell, SignalDismiss, SignalScrollPast, SignalThumbsUp, SignalThumbsDown, SignalSave:
		return true
	}
	return false
}
