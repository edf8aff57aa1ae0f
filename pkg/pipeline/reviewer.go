package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
)

// reviewBatchSize bounds entries per review call.
const reviewBatchSize = 10

// GlossaryReviewer checks provisional entries against the documents and
// reports issues.
type GlossaryReviewer struct {
	client llm.Client
	logger *slog.Logger
}

// NewGlossaryReviewer builds a reviewer.
func NewGlossaryReviewer(client llm.Client) *GlossaryReviewer {
	return &GlossaryReviewer{client: client, logger: slog.With("component", "reviewer")}
}

// Review returns the issues found across all entries. A cancel observed
// mid-review returns ErrCancelled; the executor then skips provisional
// persistence entirely. A failed batch is logged and contributes no issues.
func (r *GlossaryReviewer) Review(ctx context.Context, entries []models.GlossaryEntry, docs []*models.Document) ([]models.Issue, error) {
	issues := make([]models.Issue, 0)

	for start := 0; start < len(entries); start += reviewBatchSize {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		end := start + reviewBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		var parsed struct {
			Issues []struct {
				TermName    string `json:"term_name"`
				IssueType   string `json:"issue_type"`
				Description string `json:"description"`
				Severity    string `json:"severity"`
			} `json:"issues"`
		}
		if err := r.client.GenerateStructured(ctx, buildReviewPrompt(batch, docs), reviewSchema, &parsed); err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, err
			}
			r.logger.Warn("Review batch failed, continuing without its issues",
				"entries", len(batch), "error", err)
			continue
		}

		for _, issue := range parsed.Issues {
			issues = append(issues, models.Issue{
				TermName:    issue.TermName,
				IssueType:   issue.IssueType,
				Description: issue.Description,
				Severity:    issue.Severity,
			})
		}
	}
	return issues, nil
}
