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

func openProjectDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenAndMigrate(filepath.Join(t.TempDir(), "project.db"), database.ProjectMigrations)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openProjectDB(t)
	ctx := context.Background()

	id, err := CreateRun(ctx, db, models.ScopeFull, "api", nil)
	require.NoError(t, err)

	run, err := GetRun(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Nil(t, run.StartedAt, "started_at must be null while pending")
	assert.Nil(t, run.FinishedAt)

	n, err := MarkRunRunning(ctx, db, id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	run, err = GetRun(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)
	assert.False(t, run.CreatedAt.After(*run.StartedAt))

	n, err = UpdateRunIfRunning(ctx, db, id, models.RunStatusCompleted, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	run, err = GetRun(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.False(t, run.StartedAt.After(*run.FinishedAt))
}

func TestConditionalUpdate_NoOpOnTerminal(t *testing.T) {
	db := openProjectDB(t)
	ctx := context.Background()

	id, err := CreateRun(ctx, db, models.ScopeFull, "api", nil)
	require.NoError(t, err)
	_, err = MarkRunRunning(ctx, db, id)
	require.NoError(t, err)
	_, err = UpdateRunIfActive(ctx, db, id, models.RunStatusCancelled, "stopped by user")
	require.NoError(t, err)

	before, err := GetRun(ctx, db, id)
	require.NoError(t, err)

	// A second finalization attempt is a no-op: rowcount 0, no field mutates.
	n, err := UpdateRunIfActive(ctx, db, id, models.RunStatusFailed, "should not land")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	n, err = UpdateRunIfRunning(ctx, db, id, models.RunStatusCompleted, "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	after, err := GetRun(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestConditionalUpdate_NotFound(t *testing.T) {
	db := openProjectDB(t)
	n, err := UpdateRunIfActive(context.Background(), db, 9999, models.RunStatusFailed, "x")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestCancelBeatsCompletion(t *testing.T) {
	db := openProjectDB(t)
	ctx := context.Background()

	id, err := CreateRun(ctx, db, models.ScopeFull, "api", nil)
	require.NoError(t, err)
	_, err = MarkRunRunning(ctx, db, id)
	require.NoError(t, err)

	// Cancel lands first; completion via update-if-running must lose.
	n, err := UpdateRunIfActive(ctx, db, id, models.RunStatusCancelled, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = UpdateRunIfRunning(ctx, db, id, models.RunStatusCompleted, "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	run, err := GetRun(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, run.Status)
}

func TestGetCurrentRun(t *testing.T) {
	db := openProjectDB(t)
	ctx := context.Background()

	current, err := GetCurrentRun(ctx, db)
	require.NoError(t, err)
	assert.Nil(t, current)

	id, err := CreateRun(ctx, db, models.ScopeExtract, "upload", []int64{3, 4})
	require.NoError(t, err)

	current, err = GetCurrentRun(ctx, db)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, id, current.ID)
	assert.Equal(t, []int64{3, 4}, current.DocumentIDs)

	_, err = UpdateRunIfActive(ctx, db, id, models.RunStatusFailed, "boom")
	require.NoError(t, err)

	current, err = GetCurrentRun(ctx, db)
	require.NoError(t, err)
	assert.Nil(t, current, "terminal run is not current")
}

func TestGetRun_NotFound(t *testing.T) {
	db := openProjectDB(t)
	_, err := GetRun(context.Background(), db, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
