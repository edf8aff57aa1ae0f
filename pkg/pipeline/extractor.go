package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/repository"
)

// classifyBatchSize bounds terms per classification call. Batched calls keep
// the LLM round-trips proportional to the vocabulary, not the corpus.
const classifyBatchSize = 20

// TermExtractor surfaces candidate terms from a document and classifies
// them with the LLM.
type TermExtractor struct {
	tokenizer Tokenizer
	client    llm.Client
	logger    *slog.Logger
}

// NewTermExtractor builds an extractor.
func NewTermExtractor(tok Tokenizer, client llm.Client) *TermExtractor {
	return &TermExtractor{
		tokenizer: tok,
		client:    client,
		logger:    slog.With("component", "extractor"),
	}
}

// Candidates tokenizes one document, merges in required terms, filters out
// excluded terms that are not required, and deduplicates. The result is
// unclassified; classification happens once per unique term across all
// documents.
func (e *TermExtractor) Candidates(content string, required []string, blocked map[string]bool) []string {
	raw := e.tokenizer.Candidates(content)
	raw = append(raw, required...)

	seen := make(map[string]bool, len(raw))
	var out []string
	for _, term := range raw {
		term = repository.NormalizeTermText(term)
		if term == "" || seen[term] {
			continue
		}
		if blocked[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}

// Classify assigns one of the seven categories to each term via batched
// LLM calls. Cancellation is checked before each call. A failed batch is
// logged and skipped; the run continues with the remaining terms.
func (e *TermExtractor) Classify(ctx context.Context, terms []string, progress func(done, total int)) ([]models.TermRef, error) {
	var classified []models.TermRef
	total := len(terms)
	done := 0

	for start := 0; start < total; start += classifyBatchSize {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		end := start + classifyBatchSize
		if end > total {
			end = total
		}
		batch := terms[start:end]

		refs, err := e.classifyBatch(ctx, batch)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, err
			}
			e.logger.Warn("Term classification batch failed, skipping",
				"terms", len(batch), "error", err)
		} else {
			classified = append(classified, refs...)
		}

		done = end
		safeCallback("classify-progress", func() {
			if progress != nil {
				progress(done, total)
			}
		})
	}
	return classified, nil
}

func (e *TermExtractor) classifyBatch(ctx context.Context, batch []string) ([]models.TermRef, error) {
	var parsed struct {
		Terms []struct {
			Term     string `json:"term"`
			Category string `json:"category"`
		} `json:"terms"`
	}
	if err := e.client.GenerateStructured(ctx, buildClassifyPrompt(batch), classifySchema, &parsed); err != nil {
		return nil, err
	}

	byTerm := make(map[string]models.Category, len(parsed.Terms))
	for _, t := range parsed.Terms {
		if models.ValidCategory(models.Category(t.Category)) {
			byTerm[repository.NormalizeTermText(t.Term)] = models.Category(t.Category)
		}
	}

	// Preserve input order; a term the model dropped or mangled is skipped
	// with a warning rather than failing the batch.
	refs := make([]models.TermRef, 0, len(batch))
	for _, term := range batch {
		category, ok := byTerm[term]
		if !ok {
			e.logger.Warn("Classifier response missing term, skipping", "term", term)
			continue
		}
		refs = append(refs, models.Classified(term, category))
	}
	return refs, nil
}
