package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"tangent/internal/core"
	"tangent/internal/llm"
)

type stubLLM struct {
	payload     string
	err         error
	lastRequest llm.CompletionRequest
}

func (s *stubLLM) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	s.lastRequest = req
	return "", s.err
}

func (s *stubLLM) CompleteJSON(_ context.Context, req llm.CompletionRequest, out any) error {
	s.lastRequest = req
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.payload), out)
}

func TestSynthesizeMemorySuggestion(t *testing.T) {
	stub := &stubLLM{payload: `{
		"title": "Gegenpressing recovers the ball in 8 seconds",
		"content": "Klopp's system contrasts with the patient buildup you are reading about.",
		"reasoning": "Offers the opposing school of thought."
	}`}
	s := New(stub)

	item := core.MemoryItem(core.Memory{ID: "m1", Content: "notes on pressing triggers"})
	got := s.SynthesizeSuggestion(context.Background(), item, "positional play article", 0.9, 0.7)

	if got.Source != core.SourceLocal {
		t.Errorf("memory items map to the local source, got %s", got.Source)
	}
	if got.SourceURL != "" {
		t.Errorf("memory items carry no source url, got %q", got.SourceURL)
	}
	if got.RelevanceScore != 0.9 || got.NoveltyScore != 0.7 {
		t.Errorf("scores must pass through unchanged: %+v", got)
	}
	if got.ID == "" {
		t.Error("suggestion needs a generated id")
	}
	if !strings.Contains(stub.lastRequest.User, "from your saved notes") {
		t.Error("memory items should be framed as saved notes in the prompt")
	}
	if stub.lastRequest.Temperature != 0.7 {
		t.Errorf("synthesis samples at 0.7, got %f", stub.lastRequest.Temperature)
	}
}

func TestSynthesizeWebSuggestionCarriesURL(t *testing.T) {
	stub := &stubLLM{payload: `{"title":"t","content":"c","reasoning":"r"}`}
	s := New(stub)

	item := core.WebItem(core.SearchResult{
		Title: "Total Football", URL: "https://example.com/tf", Text: "body",
	})
	got := s.SynthesizeSuggestion(context.Background(), item, "ctx", 0.5, 0.5)

	if got.Source != core.SourceWeb {
		t.Errorf("web items map to the web source, got %s", got.Source)
	}
	if got.SourceURL != "https://example.com/tf" {
		t.Errorf("web items carry their url, got %q", got.SourceURL)
	}
}

func TestSynthesizeTruncatesOutput(t *testing.T) {
	long := strings.Repeat("x", 1000)
	payload, _ := json.Marshal(map[string]string{
		"title": long, "content": long, "reasoning": "r",
	})
	s := New(&stubLLM{payload: string(payload)})

	got := s.SynthesizeSuggestion(context.Background(), core.WebItem(core.SearchResult{URL: "u"}), "ctx", 0.5, 0.5)
	if len(got.Title) != 60 {
		t.Errorf("title should truncate to 60 chars, got %d", len(got.Title))
	}
	if len(got.Content) != 600 {
		t.Errorf("content should truncate to 600 chars, got %d", len(got.Content))
	}
}

func TestSynthesizeFallsBackToItemContent(t *testing.T) {
	s := New(&stubLLM{err: errors.New("model down")})

	item := core.WebItem(core.SearchResult{
		Title: "Fallback Title",
		URL:   "https://example.com/f",
		Text:  strings.Repeat("y", 500),
	})
	got := s.SynthesizeSuggestion(context.Background(), item, "ctx", 0.4, 0.6)

	if got.Title != "Fallback Title" {
		t.Errorf("fallback title should be the item title, got %q", got.Title)
	}
	if len(got.Content) != 300 {
		t.Errorf("fallback body is a 300-char prefix, got %d", len(got.Content))
	}
	if got.SourceURL != "https://example.com/f" {
		t.Error("fallback keeps the source url")
	}
	if got.RelevanceScore != 0.4 || got.NoveltyScore != 0.6 {
		t.Errorf("fallback keeps the scores: %+v", got)
	}
}
