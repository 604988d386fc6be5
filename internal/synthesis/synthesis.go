// Package synthesis turns a retrieved item into a user-facing
// suggestion. The prompt is addition-biased: it asks for what the item
// adds to or contrasts with the current context, never a summary of it.
package synthesis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tangent/internal/core"
	"tangent/internal/llm"
	"tangent/internal/logger"
)

const systemPrompt = `You are a brilliant research assistant who synthesizes information into actionable insights.

Your job is to extract the MOST VALUABLE specific knowledge from a source and connect it directly to what the user is working on.

CRITICAL RULES:
1. Extract SPECIFIC facts, numbers, frameworks, or techniques - not vague summaries
2. Show exactly HOW this applies to the user's current interest
3. Be concrete and actionable - what should they DO or CONSIDER?
4. Write like a smart colleague sharing a discovery, not a search engine describing a link
5. EMPHASIZE what's DIFFERENT or ADDITIVE compared to what they're already reading

BAD examples (too vague or redundant):
- "This article discusses real estate investing strategies"
- "Here's more information about the same topic you're reading"
- "This paper explores valuation methods"

GOOD examples (specific, additive & actionable):
- "The 1% rule (monthly rent >= 1% of purchase price) can quickly filter properties. This framework could complement the cap rate analysis you're reviewing."
- "Klopp's gegenpressing recovers the ball within 8 seconds on average - a stark contrast to the patient buildup play described in your reading."
- "Research shows cap rates compress by 50-100bps in markets with >3% population growth. Cross-reference your target markets' demographics."

Return JSON:
{
    "title": "Action-oriented title that hints at the specific insight (max 60 chars)",
    "content": "2-4 sentences extracting the SPECIFIC valuable information and showing exactly how it ADDS TO or CONTRASTS WITH their current context. Include concrete numbers, frameworks, or techniques when available.",
    "reasoning": "One sentence explaining what NEW perspective this brings."
}`

// Synthesizer builds suggestions with an LLM.
type Synthesizer struct {
	llm llm.CompletionService
}

// New creates a synthesizer.
func New(svc llm.CompletionService) *Synthesizer {
	return &Synthesizer{llm: svc}
}

// SynthesizeSuggestion extracts the specific insight an item adds to
// the context. On any LLM failure it degrades to a prefix of the item's
// own content rather than dropping the suggestion.
func (s *Synthesizer) SynthesizeSuggestion(ctx context.Context, item core.Item, screenContext string, relevance, novelty float64) core.Suggestion {
	source := core.SourceWeb
	sourceURL := ""
	var itemDescription string
	if item.IsMemory() {
		source = core.SourceLocal
		itemDescription = fmt.Sprintf("SOURCE (from your saved notes):\n%s", truncate(item.Memory.Content, 2000))
	} else {
		sourceURL = item.Web.URL
		itemDescription = fmt.Sprintf("SOURCE (%s):\n%s", item.Web.Title, truncate(item.Web.Text, 2000))
	}

	userPrompt := fmt.Sprintf(`WHAT THE USER IS CURRENTLY READING/VIEWING:
%s

---

%s

---

Extract the most specific insight from this source that ADDS something new to what the user is viewing. Emphasize what's different, contrasting, or complementary - not redundant.`,
		truncate(screenContext, 2500), itemDescription)

	var out struct {
		Title     string `json:"title"`
		Content   string `json:"content"`
		Reasoning string `json:"reasoning"`
	}
	err := s.llm.CompleteJSON(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		User:        userPrompt,
		Temperature: 0.7,
		MaxTokens:   500,
	}, &out)
	if err != nil {
		logger.Warn("synthesis failed, using fallback", map[string]any{"error": err.Error()})
		return fallbackSuggestion(item, source, sourceURL, relevance, novelty)
	}

	title := out.Title
	if title == "" {
		title = "Related insight"
	}
	content := out.Content
	if content == "" {
		content = item.Content()
	}
	reasoning := out.Reasoning
	if reasoning == "" {
		reasoning = "This connects to what you're currently viewing."
	}

	return core.Suggestion{
		ID:             uuid.NewString(),
		Title:          truncate(title, 60),
		Content:        truncate(content, 600),
		Reasoning:      reasoning,
		Source:         source,
		RelevanceScore: relevance,
		NoveltyScore:   novelty,
		Timestamp:      time.Now().UTC(),
		SourceURL:      sourceURL,
	}
}

func fallbackSuggestion(item core.Item, source core.SuggestionSource, sourceURL string, relevance, novelty float64) core.Suggestion {
	title := item.Content()
	if !item.IsMemory() {
		title = item.Web.Title
	}
	return core.Suggestion{
		ID:             uuid.NewString(),
		Title:          truncate(title, 60),
		Content:        truncate(item.Content(), 300),
		Reasoning:      "This information relates to your current context.",
		Source:         source,
		RelevanceScore: relevance,
		NoveltyScore:   novelty,
		Timestamp:      time.Now().UTC(),
		SourceURL:      sourceURL,
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
