package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
)

const runColumns = "id, scope, status, triggered_by, created_at, started_at, finished_at, error_message, document_ids"

// CreateRun inserts a new run in pending status and returns its id.
func CreateRun(ctx context.Context, q database.Querier, scope models.Scope, triggeredBy string, documentIDs []int64) (int64, error) {
	createdAt, err := database.ToISO(database.NowUTC())
	if err != nil {
		return 0, err
	}

	var docIDs any
	if len(documentIDs) > 0 {
		encoded, err := json.Marshal(documentIDs)
		if err != nil {
			return 0, fmt.Errorf("encode document ids: %w", err)
		}
		docIDs = string(encoded)
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO runs (scope, status, triggered_by, created_at, document_ids) VALUES (?, ?, ?, ?, ?)`,
		string(scope), string(models.RunStatusPending), triggeredBy, createdAt, docIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run insert id: %w", err)
	}
	return id, nil
}

// GetRun returns the run with the given id, or ErrNotFound.
func GetRun(ctx context.Context, q database.Querier, id int64) (*models.Run, error) {
	row := q.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// GetCurrentRun returns the single non-terminal run if one exists, else nil.
func GetCurrentRun(ctx context.Context, q database.Querier) (*models.Run, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE status IN (?, ?) ORDER BY created_at DESC, id DESC LIMIT 1",
		string(models.RunStatusPending), string(models.RunStatusRunning),
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// CountActiveRuns counts runs in a non-terminal status.
func CountActiveRuns(ctx context.Context, q database.Querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM runs WHERE status IN (?, ?)",
		string(models.RunStatusPending), string(models.RunStatusRunning),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active runs: %w", err)
	}
	return n, nil
}

// ListRuns returns runs newest-first.
func ListRuns(ctx context.Context, q database.Querier, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunRunning conditionally moves an active run to running and stamps
// started_at. Returns the rowcount: 0 means the run is already terminal or
// does not exist, and nothing was mutated.
func MarkRunRunning(ctx context.Context, q database.Querier, id int64) (int64, error) {
	startedAt, err := database.ToISO(database.NowUTC())
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(models.RunStatusRunning), startedAt, id,
		string(models.RunStatusPending), string(models.RunStatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("mark run running: %w", err)
	}
	return res.RowsAffected()
}

// UpdateRunIfRunning conditionally finalizes a run that is still running.
// Used for normal completion so a concurrently-served cancel wins the race:
// whichever conditional update commits first applies, the loser is a no-op.
func UpdateRunIfRunning(ctx context.Context, q database.Querier, id int64, status models.RunStatus, errorMessage string) (int64, error) {
	return finalizeRun(ctx, q, id, status, errorMessage, []models.RunStatus{models.RunStatusRunning})
}

// UpdateRunIfActive conditionally finalizes a run that is pending or
// running. Used for failure and cancellation so nothing overwrites a prior
// terminal state. Returns the rowcount; callers must not branch on whether
// a zero rowcount meant not-found or already-terminal.
func UpdateRunIfActive(ctx context.Context, q database.Querier, id int64, status models.RunStatus, errorMessage string) (int64, error) {
	return finalizeRun(ctx, q, id, status, errorMessage,
		[]models.RunStatus{models.RunStatusPending, models.RunStatusRunning})
}

func finalizeRun(ctx context.Context, q database.Querier, id int64, status models.RunStatus, errorMessage string, allowed []models.RunStatus) (int64, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("finalize run %d: %q is not a terminal status", id, status)
	}
	finishedAt, err := database.ToISO(database.NowUTC())
	if err != nil {
		return 0, err
	}

	var errMsg any
	if errorMessage != "" {
		errMsg = errorMessage
	}

	placeholders := ""
	args := []any{string(status), finishedAt, errMsg, id}
	for i, s := range allowed {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(s))
	}

	res, err := q.ExecContext(ctx,
		"UPDATE runs SET status = ?, finished_at = ?, error_message = ? WHERE id = ? AND status IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("finalize run: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run       models.Run
		scope     string
		status    string
		createdAt string
		startedAt sql.NullString
		finished  sql.NullString
		errMsg    sql.NullString
		docIDs    sql.NullString
	)
	if err := row.Scan(&run.ID, &scope, &status, &run.TriggeredBy, &createdAt, &startedAt, &finished, &errMsg, &docIDs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Scope = models.Scope(scope)
	run.Status = models.RunStatus(status)

	created, err := database.FromISO(createdAt)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = created

	if startedAt.Valid {
		t, err := database.FromISO(startedAt.String)
		if err != nil {
			return nil, err
		}
		run.StartedAt = &t
	}
	if finished.Valid {
		t, err := database.FromISO(finished.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	if errMsg.Valid {
		run.ErrorMessage = errMsg.String
	}
	if docIDs.Valid && docIDs.String != "" {
		if err := json.Unmarshal([]byte(docIDs.String), &run.DocumentIDs); err != nil {
			return nil, fmt.Errorf("decode document ids: %w", err)
		}
	}
	return &run, nil
}
