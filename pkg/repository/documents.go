package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
)

// HashContent returns the canonical content hash for a document body.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CreateDocument inserts a document and returns its id.
func CreateDocument(ctx context.Context, q database.Querier, fileName, content string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO documents (file_name, content, content_hash) VALUES (?, ?, ?)`,
		fileName, content, HashContent(content),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("document %q: %w", fileName, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return res.LastInsertId()
}

// ReplaceDocumentContent overwrites a document's content and hash.
func ReplaceDocumentContent(ctx context.Context, q database.Querier, id int64, content string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE documents SET content = ?, content_hash = ? WHERE id = ?`,
		content, HashContent(content), id,
	)
	if err != nil {
		return fmt.Errorf("replace document content: %w", err)
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

// GetDocument returns a document by id, or ErrNotFound.
func GetDocument(ctx context.Context, q database.Querier, id int64) (*models.Document, error) {
	var doc models.Document
	err := q.QueryRowContext(ctx,
		`SELECT id, file_name, content, content_hash FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.FileName, &doc.Content, &doc.ContentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns all documents ordered by file name.
func ListDocuments(ctx context.Context, q database.Querier) ([]*models.Document, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, file_name, content, content_hash FROM documents ORDER BY file_name`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// GetDocumentsByIDs returns the documents matching ids, ordered by file name.
// Missing ids are skipped, not errors: an incremental extract tolerates a
// document deleted between upload and run start.
func GetDocumentsByIDs(ctx context.Context, q database.Querier, ids []int64) ([]*models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, file_name, content, content_hash FROM documents WHERE id IN (`+placeholders+`) ORDER BY file_name`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("get documents by ids: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// DeleteDocument removes a document by id.
func DeleteDocument(ctx context.Context, q database.Querier, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
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

// ClearDocuments removes every document (project-level scope reset).
func ClearDocuments(ctx context.Context, q database.Querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	return nil
}

func collectDocuments(rows *sql.Rows) ([]*models.Document, error) {
	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.FileName, &doc.Content, &doc.ContentHash); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// isUniqueViolation detects sqlite uniqueness errors without depending on
// driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
