package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
)

// ReplaceSynonymGroups clears and re-inserts the synonym groups. The
// refinement stage rebuilds the whole set, so replacement is atomic within
// the caller's transaction. Groups whose primary is not a member are
// rejected.
func ReplaceSynonymGroups(ctx context.Context, q database.Querier, groups []models.SynonymGroup) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM synonym_groups`); err != nil {
		return fmt.Errorf("clear synonym groups: %w", err)
	}

	rows := make([][]any, len(groups))
	for i, g := range groups {
		if !containsString(g.Members, g.PrimaryTermText) {
			return fmt.Errorf("synonym group %q: primary is not a member", g.PrimaryTermText)
		}
		members, err := json.Marshal(g.Members)
		if err != nil {
			return fmt.Errorf("encode synonym members: %w", err)
		}
		rows[i] = []any{g.PrimaryTermText, string(members)}
	}
	return batchInsert(ctx, q, "synonym_groups", []string{"primary_term_text", "members"}, rows)
}

// ListSynonymGroups returns all synonym groups.
func ListSynonymGroups(ctx context.Context, q database.Querier) ([]models.SynonymGroup, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, primary_term_text, members FROM synonym_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list synonym groups: %w", err)
	}
	defer rows.Close()

	var groups []models.SynonymGroup
	for rows.Next() {
		var (
			g       models.SynonymGroup
			members string
		)
		if err := rows.Scan(&g.ID, &g.PrimaryTermText, &members); err != nil {
			return nil, fmt.Errorf("scan synonym group: %w", err)
		}
		if err := json.Unmarshal([]byte(members), &g.Members); err != nil {
			return nil, fmt.Errorf("decode members for %q: %w", g.PrimaryTermText, err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteSynonymGroup removes one group by id.
func DeleteSynonymGroup(ctx context.Context, q database.Querier, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM synonym_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete synonym group: %w", err)
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

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
