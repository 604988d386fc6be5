// Package concepts holds the LLM prompt surface for understanding the
// user's screen: tangential concept extraction, main-subject
// extraction for redundancy filtering, and vibe profiling.
package concepts

import (
	"context"
	"fmt"
	"strings"

	"tangent/internal/core"
	"tangent/internal/llm"
	"tangent/internal/logger"
)

const extractSystemPrompt = `You are a serendipity engine that helps users discover RELATED but DIFFERENT information.

Given text from a user's screen, identify:
1. THE MAIN SUBJECT: What is this page/content primarily about? (person, topic, concept)
2. TANGENTIAL CONCEPTS: What related topics would ADD VALUE? Think:
   - Historical influences or predecessors
   - Comparable people/things in other domains
   - Underlying theories or methodologies
   - Contrasting perspectives or rivals
   - Deeper technical concepts mentioned
   - Related fields or applications

CRITICAL RULES:
- DO NOT return the main subject itself - the user already has that information!
- Return concepts that would EXPAND their understanding, not repeat it
- Think "if they're interested in X, they'd probably love to learn about Y"
- Be specific - "positional play football tactics" not just "football"

EXAMPLES:

User reading about: Pep Guardiola Wikipedia page
BAD output: ["Pep Guardiola", "Manchester City", "football manager"]
GOOD output: ["positional play tactical philosophy", "Johan Cruyff total football legacy", "high pressing gegenpressing comparison", "Marcelo Bielsa influence on modern tactics"]

User reading about: Tesla stock analysis
BAD output: ["Tesla", "Elon Musk", "electric vehicles"]
GOOD output: ["battery technology cost curves", "BYD competitive analysis", "EV adoption S-curve dynamics", "manufacturing vertical integration strategy"]

User reading about: React documentation
BAD output: ["React", "JavaScript", "components"]
GOOD output: ["virtual DOM reconciliation algorithm", "Vue composition API comparison", "state management architectural patterns", "server components streaming benefits"]

Return JSON with two fields:
{
    "main_subject": "Brief description of what the page is primarily about",
    "tangential_concepts": ["concept1", "concept2", "concept3", "concept4"]
}`

const mainSubjectSystemPrompt = `Extract the PRIMARY SUBJECT of this content in 2-5 words.

Examples:
- Wikipedia page about Elon Musk → "Elon Musk"
- Article about React hooks → "React hooks"
- Blog post about climate change → "climate change"

Return ONLY the subject, nothing else.`

const vibeSystemPrompt = `You extract the abstract AESTHETIC FINGERPRINT of content - not its topic, but its feel, and the type of person who treasures it.

Return JSON:
{
    "emotional_signatures": ["3-5 short descriptors of the content's feel, e.g. humble, obsessive, analog"],
    "archetype": "One sentence describing the TYPE OF PERSON who loves this kind of thing",
    "cross_domain_interests": ["3-4 specific things in OTHER domains that same person would love, phrased as search queries"],
    "anti_patterns": ["2-3 things that person would actively avoid"],
    "source_domain": "one-word domain of the content, e.g. music, movie, restaurant, book"
}

Example for an article on wabi-sabi pottery:
{
    "emotional_signatures": ["humble", "imperfect", "contemplative", "handmade"],
    "archetype": "Someone who seeks authenticity in overlooked places and distrusts anything polished for mass appeal",
    "cross_domain_interests": ["family-run restaurant handwritten menu no website", "field recording ambient album", "essays on repair culture"],
    "anti_patterns": ["viral trends", "luxury branding"],
    "source_domain": "craft"
}`

// Extractor wraps the concept and vibe prompts.
type Extractor struct {
	llm             llm.CompletionService
	vibeTemperature float64
}

// NewExtractor creates a concept extractor on top of a completion service.
func NewExtractor(svc llm.CompletionService) *Extractor {
	return &Extractor{llm: svc, vibeTemperature: 0.8}
}

// WithVibeTemperature overrides the sampling temperature used for vibe
// profiling. Non-positive values keep the default.
func (e *Extractor) WithVibeTemperature(t float64) *Extractor {
	if t > 0 {
		e.vibeTemperature = t
	}
	return e
}

// ExtractConcepts returns 4-5 tangential concepts that expand on the
// screen content. The main subject itself is deliberately excluded by
// the prompt. On LLM failure a keyword fallback keeps the pipeline
// moving.
func (e *Extractor) ExtractConcepts(ctx context.Context, screenContext, appName string) ([]string, error) {
	user := fmt.Sprintf(`App: %s

Screen Content:
%s

Identify the main subject (DO NOT search for this) and 4-5 tangential concepts that would add value to someone reading this.`,
		appName, truncate(screenContext, 4000))

	var out struct {
		MainSubject        string   `json:"main_subject"`
		TangentialConcepts []string `json:"tangential_concepts"`
	}
	err := e.llm.CompleteJSON(ctx, llm.CompletionRequest{
		System:      extractSystemPrompt,
		User:        user,
		Temperature: 0.7,
		MaxTokens:   300,
	}, &out)
	if err != nil {
		logger.Warn("concept extraction failed, using keyword fallback", map[string]any{"error": err.Error()})
		return FallbackKeywords(screenContext), nil
	}

	logger.Debug("concepts extracted", map[string]any{
		"main_subject": out.MainSubject,
		"concepts":     out.TangentialConcepts,
	})
	return out.TangentialConcepts, nil
}

// ExtractMainSubject returns the primary subject of the content in 2-5
// lowercased words, used as a redundancy filter key. Failures yield an
// empty string, which disables the filter.
func (e *Extractor) ExtractMainSubject(ctx context.Context, screenContext string) string {
	text, err := e.llm.Complete(ctx, llm.CompletionRequest{
		System:      mainSubjectSystemPrompt,
		User:        truncate(screenContext, 2000),
		Temperature: 0.1,
		MaxTokens:   20,
	})
	if err != nil {
		logger.Warn("main subject extraction failed", map[string]any{"error": err.Error()})
		return ""
	}
	return strings.ToLower(strings.TrimSpace(text))
}

// ExtractVibe profiles the aesthetic fingerprint of the content. On
// failure it returns an empty profile; callers degrade gracefully.
func (e *Extractor) ExtractVibe(ctx context.Context, screenContext string) core.VibeProfile {
	var raw struct {
		EmotionalSignatures  []string `json:"emotional_signatures"`
		Archetype            string   `json:"archetype"`
		CrossDomainInterests []string `json:"cross_domain_interests"`
		AntiPatterns         []string `json:"anti_patterns"`
		SourceDomain         string   `json:"source_domain"`
	}
	err := e.llm.CompleteJSON(ctx, llm.CompletionRequest{
		System:      vibeSystemPrompt,
		User:        truncate(screenContext, 3000),
		Temperature: e.vibeTemperature,
		MaxTokens:   400,
	}, &raw)
	if err != nil {
		logger.Warn("vibe extraction failed", map[string]any{"error": err.Error()})
		return core.VibeProfile{}
	}
	return core.VibeProfile{
		EmotionalSignatures:  raw.EmotionalSignatures,
		Archetype:            raw.Archetype,
		CrossDomainInterests: raw.CrossDomainInterests,
		AntiPatterns:         raw.AntiPatterns,
		SourceDomain:         raw.SourceDomain,
	}
}

// GenerateArchetypeQuery asks for a search query in a new domain that
// would satisfy the archetype behind the vibe.
func (e *Extractor) GenerateArchetypeQuery(ctx context.Context, vibe core.VibeProfile, targetDomain string) (string, error) {
	system := `You translate a person's taste into a search query for a new domain.
Given who they are and what they value, write ONE search query (5-15 words) that would find hidden gems in the target domain for that exact person. Return ONLY the query.`

	user := fmt.Sprintf(`Archetype: %s
Emotional signatures: %s
Avoids: %s
Target domain: %s`,
		vibe.Archetype,
		strings.Join(vibe.EmotionalSignatures, ", "),
		strings.Join(vibe.AntiPatterns, ", "),
		targetDomain)

	query, err := e.llm.Complete(ctx, llm.CompletionRequest{
		System:      system,
		User:        user,
		Temperature: 0.8,
		MaxTokens:   40,
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(query), `"`), nil
}

// DescribeVectorVibe names what a serendipity vector "feels like" given
// the vibe and the taste components that were subtracted from it.
func (e *Extractor) DescribeVectorVibe(ctx context.Context, vibe core.VibeProfile, subtractedTags []string) (string, error) {
	system := `A user's dominant obsessions were mathematically removed from their taste profile. Describe what REMAINS in 5-10 searchable keywords - the hidden style underneath the obvious genre. Return ONLY the keywords.`

	user := fmt.Sprintf(`Emotional signatures: %s
Archetype: %s
Removed obsessions: %s`,
		strings.Join(vibe.EmotionalSignatures, ", "),
		vibe.Archetype,
		strings.Join(subtractedTags, "; "))

	keywords, err := e.llm.Complete(ctx, llm.CompletionRequest{
		System:      system,
		User:        user,
		Temperature: 0.7,
		MaxTokens:   40,
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(keywords), `"`), nil
}

// GenerateNoisyQuery rephrases the query to land in a related but
// different semantic cluster. Deviation and sampling temperature scale
// with the noise level. Fallback: the original query.
func (e *Extractor) GenerateNoisyQuery(ctx context.Context, query string, noiseScale float64) string {
	var deviation string
	switch {
	case noiseScale < 0.15:
		deviation = "slightly rephrase with a different angle, keeping the core topic"
	case noiseScale < 0.25:
		deviation = "shift to a related but distinct concept that shares underlying principles"
	default:
		deviation = "make an unexpected lateral leap to a tangentially connected idea"
	}

	system := fmt.Sprintf("Modify this search query to land in a RELATED but DIFFERENT semantic cluster. %s. Return ONLY 5-15 searchable words, no explanation.", deviation)

	noisy, err := e.llm.Complete(ctx, llm.CompletionRequest{
		System:      system,
		User:        "Original query: " + query,
		Temperature: 0.8 + noiseScale*0.5,
		MaxTokens:   30,
	})
	if err != nil {
		logger.Warn("noisy query generation failed", map[string]any{"error": err.Error()})
		return query
	}
	return strings.Trim(strings.TrimSpace(noisy), `"`)
}

// FallbackKeywords is the no-LLM degradation: whitespace-split the
// context, keep tokens longer than six characters, dedupe
// case-insensitively, return the first five.
func FallbackKeywords(screenContext string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, w := range strings.Fields(screenContext) {
		w = strings.Trim(w, ".,!?()[]{}:;\"'")
		if len(w) <= 6 {
			continue
		}
		lower := strings.ToLower(w)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		keywords = append(keywords, w)
		if len(keywords) == 5 {
			break
		}
	}
	return keywords
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
