package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
)

// Glossary tables sharing the GlossaryEntry shape.
const (
	TableProvisional = "glossary_provisional"
	TableRefined     = "glossary_refined"
)

// InsertGlossaryEntries batch-inserts entries into the provisional or
// refined table.
func InsertGlossaryEntries(ctx context.Context, q database.Querier, table string, entries []models.GlossaryEntry) error {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		aliases, err := encodeAliases(e.Aliases)
		if err != nil {
			return err
		}
		rows[i] = []any{e.Name, e.Definition, e.Confidence, aliases}
	}
	return batchInsert(ctx, q, table, []string{"name", "definition", "confidence", "aliases"}, rows)
}

// ListGlossaryEntries returns all entries from the provisional or refined table.
func ListGlossaryEntries(ctx context.Context, q database.Querier, table string) ([]models.GlossaryEntry, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, definition, confidence, aliases FROM "+table+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var entries []models.GlossaryEntry
	for rows.Next() {
		var (
			e       models.GlossaryEntry
			aliases string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Definition, &e.Confidence, &aliases); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases for %q: %w", e.Name, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteGlossaryEntry removes one entry by id.
func DeleteGlossaryEntry(ctx context.Context, q database.Querier, table string, id int64) error {
	res, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearGlossaryEntries empties the provisional or refined table.
func ClearGlossaryEntries(ctx context.Context, q database.Querier, table string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	return nil
}

// --- issues ---

// InsertIssues batch-inserts reviewer issues.
func InsertIssues(ctx context.Context, q database.Querier, issues []models.Issue) error {
	rows := make([][]any, len(issues))
	for i, issue := range issues {
		rows[i] = []any{issue.TermName, issue.IssueType, issue.Description, issue.Severity}
	}
	return batchInsert(ctx, q, "glossary_issues",
		[]string{"term_name", "issue_type", "description", "severity"}, rows)
}

// ListIssues returns all reviewer issues.
func ListIssues(ctx context.Context, q database.Querier) ([]models.Issue, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, term_name, issue_type, description, severity FROM glossary_issues ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []models.Issue
	for rows.Next() {
		var issue models.Issue
		if err := rows.Scan(&issue.ID, &issue.TermName, &issue.IssueType, &issue.Description, &issue.Severity); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// ClearIssues empties glossary_issues.
func ClearIssues(ctx context.Context, q database.Querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM glossary_issues`); err != nil {
		return fmt.Errorf("clear issues: %w", err)
	}
	return nil
}

func encodeAliases(aliases []string) (string, error) {
	if aliases == nil {
		aliases = []string{}
	}
	encoded, err := json.Marshal(aliases)
	if err != nil {
		return "", fmt.Errorf("encode aliases: %w", err)
	}
	return string(encoded), nil
}
