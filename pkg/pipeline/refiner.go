package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
)

// GlossaryRefiner resolves reviewer issues into the final refined entries.
type GlossaryRefiner struct {
	client llm.Client
	logger *slog.Logger
}

// NewGlossaryRefiner builds a refiner.
func NewGlossaryRefiner(client llm.Client) *GlossaryRefiner {
	return &GlossaryRefiner{client: client, logger: slog.With("component", "refiner")}
}

// Refine rewrites every entry that has issues and passes the rest through
// unchanged. Cancellation is checked before each LLM call; a failed
// refinement keeps the provisional entry so the glossary never loses a term
// to a transient fault. Progress ticks for every entry.
func (r *GlossaryRefiner) Refine(ctx context.Context, entries []models.GlossaryEntry, issues []models.Issue, docs []*models.Document, progress func(done, total int, term string)) ([]models.GlossaryEntry, error) {
	byTerm := make(map[string][]models.Issue)
	for _, issue := range issues {
		byTerm[issue.TermName] = append(byTerm[issue.TermName], issue)
	}

	refined := make([]models.GlossaryEntry, 0, len(entries))
	total := len(entries)

	for i, entry := range entries {
		err := func() error {
			defer safeCallback("refine-progress", func() {
				if progress != nil {
					progress(i+1, total, entry.Name)
				}
			})

			entryIssues := byTerm[entry.Name]
			if len(entryIssues) == 0 {
				refined = append(refined, clearID(entry))
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
			prompt := buildRefinePrompt(entry, entryIssues, docs)
			if err := r.client.GenerateStructured(ctx, prompt, defineSchema, &parsed); err != nil {
				if errors.Is(err, ErrCancelled) {
					return err
				}
				r.logger.Warn("Refinement failed, keeping provisional entry",
					"term", entry.Name, "error", err)
				refined = append(refined, clearID(entry))
				return nil
			}

			name := parsed.Name
			if name == "" {
				name = entry.Name
			}
			refined = append(refined, models.GlossaryEntry{
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
	return refined, nil
}

// clearID strips the provisional row id so re-persistence into the refined
// table allocates fresh keys.
func clearID(entry models.GlossaryEntry) models.GlossaryEntry {
	entry.ID = 0
	return entry
}
