// Package decisionlog collects routing decisions and user feedback as
// JSON lines, for offline analysis and judge training. Writes are best
// effort: a logging failure never fails the request that triggered it.
package decisionlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tangent/internal/core"
	"tangent/internal/logger"
)

// DecisionRecord maps one request's context to the weights the judge
// chose and the suggestions that came back. Context text itself is not
// logged, only its length.
type DecisionRecord struct {
	Type          string               `json:"type"`
	Timestamp     float64              `json:"timestamp"`
	RequestID     string               `json:"requestId"`
	AppName       string               `json:"appName"`
	WindowTitle   string               `json:"windowTitle"`
	Weights       core.StrategyWeights `json:"weights"`
	SuggestionIDs []string             `json:"suggestionIds"`
	ContextLen    int                  `json:"contextLen"`
	RetrievalPath core.RetrievalPath   `json:"retrievalPath,omitempty"`
}

// FeedbackRecord is one user reaction to a suggestion.
type FeedbackRecord struct {
	Type        string              `json:"type"`
	Timestamp   float64             `json:"timestamp"`
	RequestID   string              `json:"requestId"`
	InsightID   string              `json:"insightId"`
	Signal      core.FeedbackSignal `json:"signal"`
	DwellTimeMS *int                `json:"dwellTimeMs,omitempty"`
	Position    *int                `json:"position,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// Logger appends records to a JSONL file. Concurrent writers serialize
// at record boundaries.
type Logger struct {
	mu   sync.Mutex
	path string
}

// New creates a logger writing to path, creating parent directories as
// needed.
func New(path string) *Logger {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("decision log directory creation failed", map[string]any{"error": err.Error()})
		}
	}
	return &Logger{path: path}
}

// LogDecision records one routing decision.
func (l *Logger) LogDecision(requestID, appName, windowTitle string, weights core.StrategyWeights, suggestionIDs []string, contextLen int, path core.RetrievalPath) {
	if len(windowTitle) > 100 {
		windowTitle = windowTitle[:100]
	}
	l.append(DecisionRecord{
		Type:          "decision",
		Timestamp:     now(),
		RequestID:     requestID,
		AppName:       appName,
		WindowTitle:   windowTitle,
		Weights:       weights,
		SuggestionIDs: suggestionIDs,
		ContextLen:    contextLen,
		RetrievalPath: path,
	})
}

// LogFeedback records one user reaction.
func (l *Logger) LogFeedback(requestID, insightID string, signal core.FeedbackSignal, dwellTimeMS, position *int, metadata map[string]any) {
	l.append(FeedbackRecord{
		Type:        "feedback",
		Timestamp:   now(),
		RequestID:   requestID,
		InsightID:   insightID,
		Signal:      signal,
		DwellTimeMS: dwellTimeMS,
		Position:    position,
		Metadata:    metadata,
	})
}

// append marshals and writes one record under the lock so concurrent
// records never interleave within a line.
func (l *Logger) append(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		logger.Warn("decision log marshal failed", map[string]any{"error": err.Error()})
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Warn("decision log open failed", map[string]any{"error": err.Error()})
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		logger.Warn("decision log write failed", map[string]any{"error": err.Error()})
	}
}

// Entry is one raw log line, tagged by type.
type Entry struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Raw       json.RawMessage `json:"-"`
}

// Pair joins a decision with all feedback observed for its request.
type Pair struct {
	Decision DecisionRecord
	Feedback []FeedbackRecord
}

// Read returns up to limit raw entries from the log. A non-positive
// limit reads everything. Malformed lines are skipped. A missing file
// is an empty log, not an error.
func (l *Logger) Read(limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if limit > 0 && len(entries) >= limit {
			break
		}
		line := scanner.Bytes()
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		e.Raw = append(json.RawMessage(nil), line...)
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// DecisionFeedbackPairs joins decisions with their feedback by request
// id. Feedback without a matching decision is dropped.
func (l *Logger) DecisionFeedbackPairs() ([]Pair, error) {
	entries, err := l.Read(0)
	if err != nil {
		return nil, err
	}

	decisions := make(map[string]DecisionRecord)
	var order []string
	feedback := make(map[string][]FeedbackRecord)

	for _, e := range entries {
		switch e.Type {
		case "decision":
			var d DecisionRecord
			if err := json.Unmarshal(e.Raw, &d); err != nil {
				continue
			}
			if _, seen := decisions[d.RequestID]; !seen {
				order = append(order, d.RequestID)
			}
			decisions[d.RequestID] = d
		case "feedback":
			var fb FeedbackRecord
			if err := json.Unmarshal(e.Raw, &fb); err != nil {
				continue
			}
			feedback[fb.RequestID] = append(feedback[fb.RequestID], fb)
		}
	}

	pairs := make([]Pair, 0, len(order))
	for _, id := range order {
		pairs = append(pairs, Pair{Decision: decisions[id], Feedback: feedback[id]})
	}
	return pairs, nil
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
