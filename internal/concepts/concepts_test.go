package concepts

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"tangent/internal/llm"
)

// stubLLM replays canned responses or fails on demand.
type stubLLM struct {
	completeText string
	jsonPayload  string
	err          error
	lastRequest  llm.CompletionRequest
}

func (s *stubLLM) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	s.lastRequest = req
	if s.err != nil {
		return "", s.err
	}
	return s.completeText, nil
}

func (s *stubLLM) CompleteJSON(_ context.Context, req llm.CompletionRequest, out any) error {
	s.lastRequest = req
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.jsonPayload), out)
}

func TestExtractConcepts(t *testing.T) {
	stub := &stubLLM{jsonPayload: `{
		"main_subject": "Pep Guardiola",
		"tangential_concepts": ["positional play tactical philosophy", "Johan Cruyff total football legacy"]
	}`}
	extractor := NewExtractor(stub)

	concepts, err := extractor.ExtractConcepts(context.Background(), "Pep Guardiola - Wikipedia", "Safari")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"positional play tactical philosophy", "Johan Cruyff total football legacy"}
	if !reflect.DeepEqual(concepts, want) {
		t.Errorf("expected %v, got %v", want, concepts)
	}
	if !strings.Contains(stub.lastRequest.User, "Safari") {
		t.Error("app name missing from prompt")
	}
}

func TestExtractConceptsFallsBackOnError(t *testing.T) {
	stub := &stubLLM{err: errors.New("model down")}
	extractor := NewExtractor(stub)

	concepts, err := extractor.ExtractConcepts(context.Background(),
		"Guardiola positional football philosophy discussed extensively", "Safari")
	if err != nil {
		t.Fatalf("fallback should not surface the error, got %v", err)
	}
	if len(concepts) == 0 {
		t.Fatal("expected keyword fallback to produce concepts")
	}
}

func TestFallbackKeywords(t *testing.T) {
	text := "Guardiola discusses positional Positional play, (tactics) philosophy philosophy again and again"
	got := FallbackKeywords(text)
	want := []string{"Guardiola", "discusses", "positional", "tactics", "philosophy"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestFallbackKeywordsShortWordsOnly(t *testing.T) {
	if got := FallbackKeywords("all too short to keep"); got != nil {
		t.Errorf("expected no keywords, got %v", got)
	}
}

func TestExtractMainSubjectLowercases(t *testing.T) {
	stub := &stubLLM{completeText: "  Pep Guardiola  "}
	extractor := NewExtractor(stub)

	got := extractor.ExtractMainSubject(context.Background(), "some page")
	if got != "pep guardiola" {
		t.Errorf("expected lowercased subject, got %q", got)
	}
	if stub.lastRequest.Temperature != 0.1 {
		t.Errorf("subject extraction should be near-deterministic, temp %f", stub.lastRequest.Temperature)
	}
}

func TestExtractMainSubjectFailureReturnsEmpty(t *testing.T) {
	extractor := NewExtractor(&stubLLM{err: errors.New("down")})
	if got := extractor.ExtractMainSubject(context.Background(), "page"); got != "" {
		t.Errorf("expected empty subject on failure, got %q", got)
	}
}

func TestExtractVibe(t *testing.T) {
	stub := &stubLLM{jsonPayload: `{
		"emotional_signatures": ["humble", "analog"],
		"archetype": "Someone who seeks authenticity in overlooked places",
		"cross_domain_interests": ["family-run restaurant handwritten menu"],
		"anti_patterns": ["viral trends"],
		"source_domain": "craft"
	}`}
	extractor := NewExtractor(stub)

	vibe := extractor.ExtractVibe(context.Background(), "wabi-sabi pottery essay")
	if vibe.IsEmpty() {
		t.Fatal("expected populated vibe")
	}
	if vibe.SourceDomain != "craft" {
		t.Errorf("expected source domain craft, got %s", vibe.SourceDomain)
	}
	if len(vibe.EmotionalSignatures) != 2 {
		t.Errorf("expected 2 signatures, got %d", len(vibe.EmotionalSignatures))
	}
}

func TestExtractVibeFailureReturnsEmptyProfile(t *testing.T) {
	extractor := NewExtractor(&stubLLM{err: errors.New("down")})
	vibe := extractor.ExtractVibe(context.Background(), "anything")
	if !vibe.IsEmpty() {
		t.Errorf("expected empty profile, got %+v", vibe)
	}
}

func TestGenerateNoisyQueryDeviationLevels(t *testing.T) {
	cases := []struct {
		scale float64
		want  string
	}{
		{0.1, "slightly rephrase"},
		{0.2, "related but distinct"},
		{0.3, "lateral leap"},
	}
	for _, tc := range cases {
		stub := &stubLLM{completeText: "noisy query"}
		extractor := NewExtractor(stub)
		extractor.GenerateNoisyQuery(context.Background(), "original", tc.scale)
		if !strings.Contains(stub.lastRequest.System, tc.want) {
			t.Errorf("scale %f: prompt should contain %q", tc.scale, tc.want)
		}
	}
}

func TestGenerateNoisyQueryFallsBackToOriginal(t *testing.T) {
	extractor := NewExtractor(&stubLLM{err: errors.New("down")})
	if got := extractor.GenerateNoisyQuery(context.Background(), "original query", 0.15); got != "original query" {
		t.Errorf("expected original query fallback, got %q", got)
	}
}
