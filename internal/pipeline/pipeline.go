// Package pipeline orchestrates one analysis request end to end:
// concept extraction, the cognitive-state judge, weighted routing,
// doughnut scoring, synthesis and decision logging. The core insight
// carried through every step: search for tangential concepts, never
// the main subject the user is already looking at.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tangent/internal/concepts"
	"tangent/internal/core"
	"tangent/internal/decisionlog"
	"tangent/internal/judge"
	"tangent/internal/logger"
	"tangent/internal/router"
	"tangent/internal/scoring"
	"tangent/internal/synthesis"
	"tangent/internal/websearch"
)

// AnalyzeRequest is the inbound payload for analysis.
type AnalyzeRequest struct {
	Context     string `json:"context"`
	AppName     string `json:"appName"`
	WindowTitle string `json:"windowTitle"`
}

// AnalyzeResponse is the outbound payload for analysis and explicit
// web searches.
type AnalyzeResponse struct {
	Suggestions      []core.Suggestion    `json:"suggestions"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`
	RetrievalPath    core.RetrievalPath   `json:"retrievalPath,omitempty"`
	Confidence       core.ConfidenceLevel `json:"confidence,omitempty"`
	GraphInsight     bool                 `json:"graphInsight"`
	ShouldOfferWeb   bool                 `json:"shouldOfferWeb"`
}

// Controller wires the pipeline stages together.
type Controller struct {
	extractor *concepts.Extractor
	judge     *judge.Judge
	router    *router.Router
	scorer    *scoring.Scorer
	synth     *synthesis.Synthesizer
	web       websearch.Searcher
	log       *decisionlog.Logger
}

// NewController creates a pipeline controller.
func NewController(extractor *concepts.Extractor, j *judge.Judge, r *router.Router, scorer *scoring.Scorer, synth *synthesis.Synthesizer, web websearch.Searcher, log *decisionlog.Logger) *Controller {
	return &Controller{
		extractor: extractor,
		judge:     j,
		router:    r,
		scorer:    scorer,
		synth:     synth,
		web:       web,
		log:       log,
	}
}

// Analyze runs the full pipeline for one screen context.
func (c *Controller) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, error) {
	start := time.Now()
	requestID := uuid.NewString()[:8]

	screenContext := c.resolveURLContext(ctx, req.Context)

	if strings.TrimSpace(screenContext) == "" {
		return AnalyzeResponse{
			Suggestions:      []core.Suggestion{},
			ProcessingTimeMs: elapsedMs(start),
		}, nil
	}

	tangential, err := c.extractor.ExtractConcepts(ctx, screenContext, req.AppName)
	if err != nil || len(tangential) == 0 {
		return AnalyzeResponse{
			Suggestions:      []core.Suggestion{},
			ProcessingTimeMs: elapsedMs(start),
		}, nil
	}

	mainSubject := c.extractor.ExtractMainSubject(ctx, screenContext)

	query := strings.Join(tangential[:min(3, len(tangential))], " ")

	weights := c.judge.Analyze(ctx, screenContext, req.AppName, req.WindowTitle)
	logger.Info("judge weights", map[string]any{
		"requestId":   requestID,
		"serendipity": weights.Serendipity,
		"relevance":   weights.Relevance,
		"reasoning":   weights.Reasoning,
	})

	result, err := c.router.RouteWeighted(ctx, query, screenContext, weights)
	if err != nil {
		return AnalyzeResponse{}, fmt.Errorf("routing failed: %w", err)
	}

	// Thin local knowledge: supplement with tangential web results,
	// filtered so the main subject never bounces back at the user.
	if result.Confidence == core.ConfidenceLow || len(result.Items) == 0 {
		webResults, err := c.web.SearchForConnections(ctx, tangential, mainSubject, 5)
		if err != nil {
			logger.Warn("web supplement failed", map[string]any{"error": err.Error()})
		} else if len(webResults) > 0 {
			items := make([]core.Item, len(webResults))
			for i, r := range webResults {
				items[i] = core.WebItem(r)
			}
			result.Items = items
			result.Path = core.PathWeb
		}
	}

	if len(result.Items) == 0 {
		return AnalyzeResponse{
			Suggestions:      []core.Suggestion{},
			ProcessingTimeMs: elapsedMs(start),
			RetrievalPath:    result.Path,
			Confidence:       result.Confidence,
			GraphInsight:     result.GraphInsight,
			ShouldOfferWeb:   result.ShouldOfferWeb,
		}, nil
	}

	scored := c.scorer.FilterAndRank(result.Items, 3)

	suggestions := make([]core.Suggestion, 0, len(scored))
	for _, sc := range scored {
		suggestions = append(suggestions, c.synth.SynthesizeSuggestion(ctx, sc.Item, req.Context, sc.Relevance, sc.Novelty))
	}

	ids := make([]string, len(suggestions))
	for i, s := range suggestions {
		ids[i] = s.ID
	}
	c.log.LogDecision(requestID, req.AppName, req.WindowTitle, weights, ids, len(req.Context), result.Path)

	return AnalyzeResponse{
		Suggestions:      suggestions,
		ProcessingTimeMs: elapsedMs(start),
		RetrievalPath:    result.Path,
		Confidence:       result.Confidence,
		GraphInsight:     result.GraphInsight,
		ShouldOfferWeb:   result.ShouldOfferWeb,
	}, nil
}

// SearchWeb handles the explicit "Search Web" action: plain web
// search, scored and synthesized like any other result set.
func (c *Controller) SearchWeb(ctx context.Context, query string) (AnalyzeResponse, error) {
	start := time.Now()

	results, err := c.router.TriggerWebSearch(ctx, query)
	if err != nil {
		return AnalyzeResponse{}, fmt.Errorf("web search failed: %w", err)
	}

	items := make([]core.Item, len(results))
	for i, r := range results {
		items[i] = core.WebItem(r)
	}
	scored := c.scorer.FilterAndRank(items, 3)

	suggestions := make([]core.Suggestion, 0, len(scored))
	for _, sc := range scored {
		suggestions = append(suggestions, c.synth.SynthesizeSuggestion(ctx, sc.Item, query, sc.Relevance, sc.Novelty))
	}

	return AnalyzeResponse{
		Suggestions:      suggestions,
		ProcessingTimeMs: elapsedMs(start),
		RetrievalPath:    core.PathWeb,
		Confidence:       core.ConfidenceLow,
	}, nil
}

// resolveURLContext replaces a context carrying a CURRENT_URL marker
// with the fetched page content. Browser-internal URLs are skipped, and
// any fetch failure keeps the original context.
func (c *Controller) resolveURLContext(ctx context.Context, screenContext string) string {
	if !strings.Contains(screenContext, "CURRENT_URL:") {
		return screenContext
	}

	var currentURL string
	for _, line := range strings.Split(screenContext, "\n") {
		if strings.Contains(line, "CURRENT_URL:") {
			currentURL = strings.TrimSpace(strings.Replace(line, "CURRENT_URL:", "", 1))
			break
		}
	}
	if currentURL == "" || strings.HasPrefix(currentURL, "chrome://") || strings.HasPrefix(currentURL, "about:") {
		return screenContext
	}

	contents, err := c.web.GetContents(ctx, []string{currentURL})
	if err != nil || len(contents) == 0 {
		if err != nil {
			logger.Warn("url content fetch failed", map[string]any{"url": currentURL, "error": err.Error()})
		}
		return screenContext
	}

	fetched := contents[0]
	text := fetched.Text
	if len(text) > 8000 {
		text = text[:8000]
	}
	return fmt.Sprintf("Page Title: %s\nURL: %s\n\nContent:\n%s", fetched.Title, currentURL, text)
}

func elapsedMs(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
