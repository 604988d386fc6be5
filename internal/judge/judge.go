// Package judge implements the cognitive-state analyzer: given the
// user's screen context it produces continuous strategy weights for
// allocation-based routing, never binary gates.
package judge

import (
	"context"
	"fmt"
	"strings"

	"tangent/internal/core"
	"tangent/internal/llm"
	"tangent/internal/logger"
)

const systemPrompt = `You are the Cognitive State Analyzer for an AI OS.
Determine the user's INTENT (Serendipity/Relevance) and required INFORMATION SOURCE (Web/Local).

SCORING GUIDE (0.0 to 1.0):

Serendipity (need for novelty/unexpected connections):
  0.1: Coding, debugging, financial analysis (zero distraction allowed)
  0.3: Focused writing, specific research task
  0.5: Reading an article, casual writing (open to related ideas)
  0.7: Exploring a topic, learning something new
  0.9: Doomscrolling, bored, "stuck" on blank page (needs radical inspiration)

Relevance (need for precision/accuracy):
  0.1: Browsing for fun, looking for novelty
  0.3: Casual exploration, entertainment
  0.5: General reading, moderate accuracy needed
  0.7: Work task, need accurate information
  0.9: Specific factual query, debugging, hunting for a document

Source Web (external/fresh world knowledge):
  0.1: Personal journaling, reading own notes
  0.3: Working on internal project docs
  0.5: Balanced need for external and internal
  0.7: Learning new topic, need external references
  0.9: "Latest news", API docs, restaurant reviews, current events

Source Local (user's own memories/notes/history):
  0.1: Exploring completely new topic
  0.3: General browsing, unlikely to have notes
  0.5: Might have relevant past notes
  0.7: Working in familiar domain, likely have notes
  0.9: "My journal", project roadmap, past research, email drafts

HEURISTICS BY CONTEXT:
- Social Media scrolling → Serendipity: 0.8, Relevance: 0.2, Web: 0.7, Local: 0.3
- Coding/Debugging → Serendipity: 0.1, Relevance: 0.9, Web: 0.8, Local: 0.4
- Writing a Memoir → Serendipity: 0.3, Relevance: 0.7, Web: 0.2, Local: 0.9
- Blank page/stuck → Serendipity: 0.9, Relevance: 0.3, Web: 0.4, Local: 0.8
- Reading Wikipedia → Serendipity: 0.5, Relevance: 0.6, Web: 0.7, Local: 0.5
- Technical docs → Serendipity: 0.2, Relevance: 0.8, Web: 0.9, Local: 0.3
- Personal notes → Serendipity: 0.4, Relevance: 0.6, Web: 0.3, Local: 0.9

Provide precise float values (e.g., 0.75, not just 0.8).
Keep reasoning brief (1-2 sentences).

Return JSON:
{
    "serendipity": 0.0,
    "relevance": 0.0,
    "sourceWeb": 0.0,
    "sourceLocal": 0.0,
    "reasoning": "brief rationale"
}`

// Judge analyzes context into strategy weights.
type Judge struct {
	llm   llm.CompletionService
	model string
}

// New creates a context judge. The model overrides the LLM client's
// default when non-empty.
func New(svc llm.CompletionService, model string) *Judge {
	return &Judge{llm: svc, model: model}
}

// Analyze truncates the context to its first ~1000 characters and asks
// the model, at temperature zero, for the four weights plus a
// rationale. Any failure falls back to app-name heuristics. Returned
// weights are always clamped to [0,1].
func (j *Judge) Analyze(ctx context.Context, screenContext, appName, windowTitle string) core.StrategyWeights {
	summary := core.Truncate(screenContext, 1000)

	user := fmt.Sprintf(`Analyze this user context:

App: %s
Window: %s

Screen Content:
%s

Determine the optimal retrieval strategy weights.`, appName, windowTitle, summary)

	var weights core.StrategyWeights
	err := j.llm.CompleteJSON(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		User:        user,
		Model:       j.model,
		Temperature: 0,
	}, &weights)
	if err != nil {
		logger.Warn("context judge failed, using heuristic fallback", map[string]any{
			"error": err.Error(), "app": appName,
		})
		return FallbackWeights(appName)
	}

	weights = weights.Clamp()
	logger.Debug("context judged", map[string]any{
		"serendipity": weights.Serendipity,
		"relevance":   weights.Relevance,
		"web":         weights.SourceWeb,
		"local":       weights.SourceLocal,
	})
	return weights
}

// FallbackWeights keys reasonable defaults on app-name substrings.
func FallbackWeights(appName string) core.StrategyWeights {
	app := strings.ToLower(appName)

	if containsAny(app, "code", "xcode", "terminal", "iterm") {
		return core.StrategyWeights{
			Serendipity: 0.15,
			Relevance:   0.85,
			SourceWeb:   0.75,
			SourceLocal: 0.35,
			Reasoning:   "Fallback: Detected coding environment",
		}
	}
	if containsAny(app, "safari", "chrome", "firefox", "arc") {
		return core.StrategyWeights{
			Serendipity: 0.45,
			Relevance:   0.55,
			SourceWeb:   0.65,
			SourceLocal: 0.45,
			Reasoning:   "Fallback: Detected browser",
		}
	}
	if containsAny(app, "notes", "obsidian", "notion", "bear") {
		return core.StrategyWeights{
			Serendipity: 0.35,
			Relevance:   0.65,
			SourceWeb:   0.25,
			SourceLocal: 0.85,
			Reasoning:   "Fallback: Detected note-taking app",
		}
	}
	return core.StrategyWeights{
		Serendipity: 0.4,
		Relevance:   0.6,
		SourceWeb:   0.5,
		SourceLocal: 0.5,
		Reasoning:   "Fallback: Default balanced weights",
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
