package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// fakeTokenizer returns scripted candidates keyed by substring match on the
// document content.
type fakeTokenizer struct {
	byContent map[string][]string
}

func (f *fakeTokenizer) Candidates(text string) []string {
	for marker, terms := range f.byContent {
		if strings.Contains(text, marker) {
			return terms
		}
	}
	return nil
}

// fakeLLM answers the pipeline's structured prompts from a category map and
// canned definitions. It routes on prompt markers the way the real prompts
// are built.
type fakeLLM struct {
	categories  map[string]string // term → category
	definitions map[string]string // term → definition
	issues      []map[string]string
	delay       time.Duration
	calls       atomic.Int32
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("unexpected raw generate call")
}

func (f *fakeLLM) IsAvailable(ctx context.Context) bool { return true }

func (f *fakeLLM) GenerateStructured(ctx context.Context, prompt string, schemaJSON string, out any) error {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	var payload string
	switch {
	case strings.Contains(prompt, "分類する専門家"):
		payload = f.classifyResponse(prompt)
	case strings.Contains(prompt, "校閲者"):
		payload = f.reviewResponse()
	case strings.Contains(prompt, "改訂版"):
		payload = f.refineResponse(prompt)
	case strings.Contains(prompt, "定義を書いてください"):
		payload = f.defineResponse(prompt)
	default:
		return fmt.Errorf("unrecognized prompt")
	}
	return json.Unmarshal([]byte(payload), out)
}

func (f *fakeLLM) classifyResponse(prompt string) string {
	var terms []map[string]string
	for _, line := range strings.Split(prompt, "\n") {
		term, ok := strings.CutPrefix(line, "- ")
		if !ok {
			continue
		}
		category, ok := f.categories[term]
		if !ok {
			category = "technical"
		}
		terms = append(terms, map[string]string{"term": term, "category": category})
	}
	data, _ := json.Marshal(map[string]any{"terms": terms})
	return string(data)
}

func (f *fakeLLM) defineResponse(prompt string) string {
	term := f.termFromPrompt(prompt)
	definition := f.definitions[term]
	if definition == "" {
		definition = "A " + term + "."
	}
	data, _ := json.Marshal(map[string]any{
		"name": term, "definition": definition, "confidence": 0.9, "aliases": []string{},
	})
	return string(data)
}

func (f *fakeLLM) reviewResponse() string {
	issues := f.issues
	if issues == nil {
		issues = []map[string]string{}
	}
	data, _ := json.Marshal(map[string]any{"issues": issues})
	return string(data)
}

func (f *fakeLLM) refineResponse(prompt string) string {
	term := f.termFromPrompt(prompt)
	data, _ := json.Marshal(map[string]any{
		"name": term, "definition": "Refined definition.", "confidence": 0.95, "aliases": []string{},
	})
	return string(data)
}

// termFromPrompt pulls the subject term out of the 今回 section.
func (f *fakeLLM) termFromPrompt(prompt string) string {
	idx := strings.Index(prompt, "## 今回の")
	if idx < 0 {
		return ""
	}
	section := prompt[idx:]
	lines := strings.Split(section, "\n")
	if len(lines) < 2 {
		return ""
	}
	line := strings.TrimSpace(lines[1])
	if cut := strings.IndexAny(line, " :("); cut > 0 {
		line = line[:cut]
	}
	return line
}
