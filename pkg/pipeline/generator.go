package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
)

// GlossaryGenerator writes a provisional definition for each accepted term.
type GlossaryGenerator struct {
	client llm.Client
	logger *slog.Logger
}

// NewGlossaryGenerator builds a generator.
func NewGlossaryGenerator(client llm.Client) *GlossaryGenerator {
	return &GlossaryGenerator{client: client, logger: slog.With("component", "generator")}
}

// Generate emits one GlossaryEntry per accepted term. Common nouns are
// skipped here, not at extraction, so the term list still shows them.
// Cancellation is checked before each LLM call; a single term's failure is
// logged and the term skipped. Progress ticks for every term, including
// skipped and failed ones.
func (g *GlossaryGenerator) Generate(ctx context.Context, terms []models.TermRef, docs []*models.Document, progress func(done, total int, term string)) ([]models.GlossaryEntry, error) {
	var entries []models.GlossaryEntry
	total := len(terms)

	for i, term := range terms {
		err := func() error {
			defer safeCallback("generate-progress", func() {
				if progress != nil {
					progress(i+1, total, term.Text)
				}
			})

			if term.Category == models.CategoryCommonNoun {
				return nil
			}
			if err := checkCancelled(ctx); err != nil {
				return err
			}

			var parsed struct {
				Name       string   `json:"name"`
				Definition string   `json:"definition"`
				Confidence float64  `json:"confidence"`
				Aliases    []string `json:"aliases"`
			}
			if err := g.client.GenerateStructured(ctx, buildDefinePrompt(term, docs), defineSchema, &parsed); err != nil {
				if errors.Is(err, ErrCancelled) {
					return err
				}
				g.logger.Warn("Definition generation failed, skipping term",
					"term", term.Text, "error", err)
				return nil
			}

			name := parsed.Name
			if name == "" {
				name = term.Text
			}
			entries = append(entries, models.GlossaryEntry{
				Name:       name,
				Definition: parsed.Definition,
				Confidence: clampConfidence(parsed.Confidence),
				Aliases:    parsed.Aliases,
			})
			return nil
		}()
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
