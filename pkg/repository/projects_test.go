package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
)

func openCatalogDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenAndMigrate(filepath.Join(t.TempDir(), "catalog.db"), database.CatalogMigrations)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProjectCatalog(t *testing.T) {
	db := openCatalogDB(t)
	ctx := context.Background()

	id, err := CreateProject(ctx, db, &models.Project{
		Name:        "demo",
		LLMProvider: "openai",
		LLMModel:    "gpt-4o-mini",
		LLMBaseURL:  "http://localhost:11434/v1",
	})
	require.NoError(t, err)

	_, err = CreateProject(ctx, db, &models.Project{Name: "demo"})
	assert.ErrorIs(t, err, ErrDuplicate)

	p, err := GetProjectByName(ctx, db, "demo")
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "http://localhost:11434/v1", p.LLMBaseURL)
	assert.False(t, p.CreatedAt.IsZero())

	require.NoError(t, UpdateProjectSettings(ctx, db, id, "/corpus", "openai", "gpt-4o", ""))
	p, err = GetProject(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, "/corpus", p.DocRoot)
	assert.Equal(t, "gpt-4o", p.LLMModel)

	assert.ErrorIs(t, UpdateProjectSettings(ctx, db, 999, "", "", "", ""), ErrNotFound)

	_, err = GetProjectByName(ctx, db, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocuments(t *testing.T) {
	db := openProjectDB(t)
	ctx := context.Background()

	id1, err := CreateDocument(ctx, db, "a.txt", "hello")
	require.NoError(t, err)
	_, err = CreateDocument(ctx, db, "b.md", "world")
	require.NoError(t, err)

	_, err = CreateDocument(ctx, db, "a.txt", "again")
	assert.ErrorIs(t, err, ErrDuplicate)

	docs, err := ListDocuments(ctx, db)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, HashContent("hello"), docs[0].ContentHash)

	require.NoError(t, ReplaceDocumentContent(ctx, db, id1, "replaced"))
	doc, err := GetDocument(ctx, db, id1)
	require.NoError(t, err)
	assert.Equal(t, "replaced", doc.Content)
	assert.Equal(t, HashContent("replaced"), doc.ContentHash)

	subset, err := GetDocumentsByIDs(ctx, db, []int64{id1, 9999})
	require.NoError(t, err)
	require.Len(t, subset, 1)
	assert.Equal(t, id1, subset[0].ID)

	require.NoError(t, DeleteDocument(ctx, db, id1))
	assert.ErrorIs(t, DeleteDocument(ctx, db, id1), ErrNotFound)
}
