package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
)

// NormalizeTermText NFC-normalizes and trims a curated term. Excluded and
// required term texts are stored in this canonical form so uniqueness and
// the required-overrides-excluded rule compare like with like.
func NormalizeTermText(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}

// --- extracted terms ---

// InsertExtractedTerms batch-inserts classified terms.
func InsertExtractedTerms(ctx context.Context, q database.Querier, terms []models.ExtractedTerm) error {
	rows := make([][]any, len(terms))
	for i, t := range terms {
		var category any
		if t.Category != "" {
			category = string(t.Category)
		}
		rows[i] = []any{t.TermText, category}
	}
	return batchInsert(ctx, q, "terms_extracted", []string{"term_text", "category"}, rows)
}

// ListExtractedTerms returns all persisted extracted terms.
func ListExtractedTerms(ctx context.Context, q database.Querier) ([]models.ExtractedTerm, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, term_text, category FROM terms_extracted ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list extracted terms: %w", err)
	}
	defer rows.Close()

	var terms []models.ExtractedTerm
	for rows.Next() {
		var (
			t        models.ExtractedTerm
			category sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.TermText, &category); err != nil {
			return nil, fmt.Errorf("scan extracted term: %w", err)
		}
		if category.Valid {
			t.Category = models.Category(category.String)
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// ClearExtractedTerms empties terms_extracted.
func ClearExtractedTerms(ctx context.Context, q database.Querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM terms_extracted`); err != nil {
		return fmt.Errorf("clear extracted terms: %w", err)
	}
	return nil
}

// --- curated terms (excluded / required) ---

// AddExcludedTerm inserts a normalized excluded term.
func AddExcludedTerm(ctx context.Context, q database.Querier, text string, source models.TermSource) (int64, error) {
	return addCuratedTerm(ctx, q, "terms_excluded", text, source)
}

// AddRequiredTerm inserts a normalized required term. Required terms are
// always user-declared.
func AddRequiredTerm(ctx context.Context, q database.Querier, text string) (int64, error) {
	return addCuratedTerm(ctx, q, "terms_required", text, models.TermSourceManual)
}

func addCuratedTerm(ctx context.Context, q database.Querier, table, text string, source models.TermSource) (int64, error) {
	text = NormalizeTermText(text)
	if text == "" {
		return 0, fmt.Errorf("term text is empty")
	}
	createdAt, err := database.ToISO(database.NowUTC())
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx,
		"INSERT INTO "+table+" (term_text, source, created_at) VALUES (?, ?, ?)",
		text, string(source), createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("term %q: %w", text, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

// ListExcludedTerms returns all excluded terms.
func ListExcludedTerms(ctx context.Context, q database.Querier) ([]models.CuratedTerm, error) {
	return listCuratedTerms(ctx, q, "terms_excluded")
}

// ListRequiredTerms returns all required terms.
func ListRequiredTerms(ctx context.Context, q database.Querier) ([]models.CuratedTerm, error) {
	return listCuratedTerms(ctx, q, "terms_required")
}

func listCuratedTerms(ctx context.Context, q database.Querier, table string) ([]models.CuratedTerm, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, term_text, source, created_at FROM "+table+" ORDER BY term_text")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var terms []models.CuratedTerm
	for rows.Next() {
		var (
			t         models.CuratedTerm
			source    string
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.TermText, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		t.Source = models.TermSource(source)
		created, err := database.FromISO(createdAt)
		if err != nil {
			return nil, err
		}
		t.CreatedAt = created
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// DeleteExcludedTerm removes an excluded term by id.
func DeleteExcludedTerm(ctx context.Context, q database.Querier, id int64) error {
	return deleteCuratedTerm(ctx, q, "terms_excluded", id)
}

// DeleteRequiredTerm removes a required term by id.
func DeleteRequiredTerm(ctx context.Context, q database.Querier, id int64) error {
	return deleteCuratedTerm(ctx, q, "terms_required", id)
}

func deleteCuratedTerm(ctx context.Context, q database.Querier, table string, id int64) error {
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

// VisibleTerms returns the term enumeration the UI shows: extracted terms
// minus excluded-but-not-required texts, plus synthetic rows for required
// terms that were never extracted. Synthetic rows carry negative ids.
// A required term is never filtered, even when also excluded.
func VisibleTerms(ctx context.Context, q database.Querier) ([]models.ExtractedTerm, error) {
	extracted, err := ListExtractedTerms(ctx, q)
	if err != nil {
		return nil, err
	}
	excluded, err := ListExcludedTerms(ctx, q)
	if err != nil {
		return nil, err
	}
	required, err := ListRequiredTerms(ctx, q)
	if err != nil {
		return nil, err
	}

	requiredSet := make(map[string]bool, len(required))
	for _, t := range required {
		requiredSet[t.TermText] = true
	}
	blocked := make(map[string]bool, len(excluded))
	for _, t := range excluded {
		if !requiredSet[t.TermText] {
			blocked[t.TermText] = true
		}
	}

	var visible []models.ExtractedTerm
	seen := make(map[string]bool, len(extracted))
	for _, t := range extracted {
		key := NormalizeTermText(t.TermText)
		if blocked[key] {
			continue
		}
		seen[key] = true
		visible = append(visible, t)
	}

	syntheticID := int64(-1)
	for _, t := range required {
		if seen[t.TermText] {
			continue
		}
		visible = append(visible, models.ExtractedTerm{ID: syntheticID, TermText: t.TermText})
		syntheticID--
	}
	return visible, nil
}
