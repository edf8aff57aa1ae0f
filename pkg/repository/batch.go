package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexigen/lexigen/pkg/database"
)

// maxBatchParams bounds the bind variables in one INSERT so a large batch
// never trips the sqlite variable limit.
const maxBatchParams = 900

// batchInsert executes a multi-row INSERT into table. All batch writes in
// the repository layer go through this helper so each stage persists its
// output in one statement per chunk instead of N implicit transactions.
func batchInsert(ctx context.Context, q database.Querier, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	perRow := len(columns)
	chunkRows := maxBatchParams / perRow
	if chunkRows < 1 {
		chunkRows = 1
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", perRow), ",") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	for start := 0; start < len(rows); start += chunkRows {
		end := start + chunkRows
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*perRow)
		for i, row := range chunk {
			if len(row) != perRow {
				return fmt.Errorf("batch insert into %s: row %d has %d values, want %d", table, start+i, len(row), perRow)
			}
			placeholders[i] = placeholder
			args = append(args, row...)
		}

		if _, err := q.ExecContext(ctx, prefix+strings.Join(placeholders, ", "), args...); err != nil {
			return fmt.Errorf("batch insert into %s: %w", table, err)
		}
	}
	return nil
}
