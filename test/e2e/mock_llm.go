// Package e2e exercises the run orchestrator end to end against a mock
// OpenAI-compatible LLM server.
package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"
)

// MockLLMServer is an httptest server speaking the chat-completions wire
// format. Responses are derived from the prompt the same way the pipeline
// builds it: classification, definition, review, and refinement prompts are
// recognized by their fixed instruction headers.
type MockLLMServer struct {
	*httptest.Server

	Categories  map[string]string // term → category
	Definitions map[string]string // term → definition

	// PerCallDelay throttles every call; cancellation tests use it to catch
	// the pipeline mid-stage.
	PerCallDelay time.Duration

	// FailuresRemaining makes the next N calls answer HTTP 500.
	FailuresRemaining atomic.Int32

	calls atomic.Int32
}

// NewMockLLMServer starts the server. Close it via the embedded Server.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{
		Categories:  make(map[string]string),
		Definitions: make(map[string]string),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// CallCount returns the number of chat-completion requests served.
func (m *MockLLMServer) CallCount() int { return int(m.calls.Load()) }

// BaseURL is the OpenAI-compatible endpoint root.
func (m *MockLLMServer) BaseURL() string { return m.URL + "/v1" }

func (m *MockLLMServer) handle(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/models") {
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": []any{}})
		return
	}

	m.calls.Add(1)
	if m.FailuresRemaining.Load() > 0 {
		m.FailuresRemaining.Add(-1)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if m.PerCallDelay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(m.PerCallDelay):
		}
	}

	var req struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	prompt := req.Messages[0].Content

	var content string
	switch {
	case strings.Contains(prompt, "分類する専門家"):
		content = m.classify(prompt)
	case strings.Contains(prompt, "校閲者"):
		content = `{"issues": []}`
	case strings.Contains(prompt, "改訂版"):
		content = m.define(prompt)
	case strings.Contains(prompt, "定義を書いてください"):
		content = m.define(prompt)
	default:
		content = `{}`
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "cmpl-mock",
		"object": "chat.completion",
		"model":  "mock",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	})
}

func (m *MockLLMServer) classify(prompt string) string {
	var terms []map[string]string
	for _, line := range strings.Split(prompt, "\n") {
		term, ok := strings.CutPrefix(line, "- ")
		if !ok {
			continue
		}
		category, ok := m.Categories[term]
		if !ok {
			category = "technical"
		}
		terms = append(terms, map[string]string{"term": term, "category": category})
	}
	data, _ := json.Marshal(map[string]any{"terms": terms})
	return string(data)
}

func (m *MockLLMServer) define(prompt string) string {
	term := subjectTerm(prompt)
	definition := m.Definitions[term]
	if definition == "" {
		definition = "A " + term + "."
	}
	data, _ := json.Marshal(map[string]any{
		"name": term, "definition": definition, "confidence": 0.9, "aliases": []string{},
	})
	return string(data)
}

// subjectTerm pulls the term out of the 今回 section of a definition or
// refinement prompt.
func subjectTerm(prompt string) string {
	idx := strings.Index(prompt, "## 今回の")
	if idx < 0 {
		return ""
	}
	lines := strings.Split(prompt[idx:], "\n")
	if len(lines) < 2 {
		return ""
	}
	line := strings.TrimSpace(lines[1])
	if cut := strings.IndexAny(line, " :("); cut > 0 {
		line = line[:cut]
	}
	return line
}
