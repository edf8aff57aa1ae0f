// Package runs provides the run manager: admission of at most one active
// run per project, the background worker, the status state machine over
// conditional database updates, and log fan-out to subscribers.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/events"
	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/pipeline"
	"github.com/lexigen/lexigen/pkg/repository"
)

// Sentinel errors surfaced to the API layer.
var (
	// ErrAlreadyRunning indicates a non-terminal run exists for the project.
	ErrAlreadyRunning = errors.New("a run is already active for this project")

	// ErrNotFound indicates the run id is unknown.
	ErrNotFound = repository.ErrNotFound

	// ErrInvalidScope indicates an unknown scope was requested.
	ErrInvalidScope = errors.New("invalid run scope")
)

type cancelState struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager owns the run lifecycle for one project. The single-writer model:
// at most one worker goroutine executes a run at any time, admission is
// serialized on startMu, and the database is the source of truth for status
// via conditional updates.
//
// Lock order is strictly startMu → cancelMu; no method takes them in
// reverse.
type Manager struct {
	project   *models.Project
	db        *sql.DB // admission/read handle, owned by the API side
	dbPath    string
	llmCfg    llm.Config
	tokenizer pipeline.Tokenizer
	broker    *events.Broker
	logger    *slog.Logger

	startMu sync.Mutex

	cancelMu sync.Mutex
	cancels  map[int64]*cancelState

	execMu    sync.Mutex
	executors map[int64]*pipeline.Executor

	wg sync.WaitGroup
}

// NewManager builds a manager for one project. db is the foreground handle
// used for admission and reads; each worker opens its own handle on dbPath.
func NewManager(project *models.Project, db *sql.DB, dbPath string, llmCfg llm.Config, tok pipeline.Tokenizer) *Manager {
	return &Manager{
		project:   project,
		db:        db,
		dbPath:    dbPath,
		llmCfg:    llmCfg,
		tokenizer: tok,
		broker:    events.NewBroker(),
		logger:    slog.With("component", "runs", "project", project.Name),
		cancels:   make(map[int64]*cancelState),
		executors: make(map[int64]*pipeline.Executor),
	}
}

// Broker exposes the log broker for SSE subscriptions.
func (m *Manager) Broker() *events.Broker { return m.broker }

// StartRun admits and launches a run. Returns ErrAlreadyRunning when a
// non-terminal run exists. The admission check and the run insert happen in
// one transaction under startMu; the cancel-event registration happens
// before startMu is released so a concurrent CancelRun always finds it.
func (m *Manager) StartRun(ctx context.Context, scope models.Scope, triggeredBy string, documentIDs []int64) (int64, error) {
	if !models.ValidScope(scope) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	var runID int64
	err := database.Transaction(ctx, m.db, func(ctx context.Context, q database.Querier) error {
		active, err := repository.CountActiveRuns(ctx, q)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrAlreadyRunning
		}
		runID, err = repository.CreateRun(ctx, q, scope, triggeredBy, documentIDs)
		return err
	})
	if err != nil {
		return 0, err
	}

	// The latch is rooted in the background: the run must outlive the HTTP
	// request that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancelMu.Lock()
	m.cancels[runID] = &cancelState{ctx: runCtx, cancel: cancel}
	m.cancelMu.Unlock()

	m.wg.Add(1)
	go m.executeRun(runCtx, runID, scope, documentIDs)

	m.logger.Info("Run started", "run_id", runID, "scope", scope, "triggered_by", triggeredBy)
	return runID, nil
}

// CancelRun requests cooperative cancellation. Idempotent: cancelling a
// terminal run is a no-op success; an unknown id returns ErrNotFound. The
// conditional update resolves the race with normal completion — whichever
// commits first wins.
func (m *Manager) CancelRun(ctx context.Context, runID int64) error {
	if _, err := repository.GetRun(ctx, m.db, runID); err != nil {
		return err
	}

	m.cancelMu.Lock()
	if state, ok := m.cancels[runID]; ok {
		state.cancel()
	}
	m.cancelMu.Unlock()

	// Pending runs (worker not yet started) and races with completion are
	// settled here: the update no-ops on terminal runs, so a second cancel
	// never overwrites finished_at or error_message.
	n, err := repository.UpdateRunIfActive(ctx, m.db, runID, models.RunStatusCancelled, "")
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("Run cancelled", "run_id", runID)
	}
	return nil
}

// GetCurrentRun returns the non-terminal run, if any.
func (m *Manager) GetCurrentRun(ctx context.Context) (*models.Run, error) {
	return repository.GetCurrentRun(ctx, m.db)
}

// GetRun returns a run by id.
func (m *Manager) GetRun(ctx context.Context, runID int64) (*models.Run, error) {
	return repository.GetRun(ctx, m.db, runID)
}

// SubscribeLogs attaches to a run's log stream: buffered history plus live
// events until the complete sentinel.
func (m *Manager) SubscribeLogs(runID int64) (id string, snapshot []events.LogEvent, ch <-chan events.LogEvent) {
	return m.broker.Subscribe(runID)
}

// UnsubscribeLogs detaches a subscriber.
func (m *Manager) UnsubscribeLogs(runID int64, id string) {
	m.broker.Unsubscribe(runID, id)
}

// Wait blocks until every launched worker has finished. Used on shutdown
// and by tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// executeRun is the worker body. It owns a dedicated database handle,
// drives the executor, finalizes status through the conditional updates,
// and always releases the cancel entry, the executor entry, and the handle
// before broadcasting the complete sentinel last.
func (m *Manager) executeRun(runCtx context.Context, runID int64, scope models.Scope, documentIDs []int64) {
	defer m.wg.Done()
	logger := m.logger.With("run_id", runID)

	defer func() {
		m.cancelMu.Lock()
		if state, ok := m.cancels[runID]; ok {
			state.cancel()
			delete(m.cancels, runID)
		}
		m.cancelMu.Unlock()
		m.broker.Complete(runID)
	}()

	db, err := database.Open(m.dbPath)
	if err != nil {
		logger.Error("Unable to start worker", "error", err)
		m.finalize(nil, runID, models.RunStatusFailed, "unable to start worker: "+err.Error(), true)
		return
	}
	defer db.Close()

	n, err := repository.MarkRunRunning(context.Background(), db, runID)
	if err != nil {
		logger.Error("Failed to mark run running", "error", err)
		m.finalize(db, runID, models.RunStatusFailed, "unable to start: "+err.Error(), false)
		return
	}
	if n == 0 {
		// Cancelled before the worker picked it up.
		logger.Info("Run already terminal before start")
		return
	}

	executor := pipeline.NewExecutor(db, m.newLLMClient(), m.tokenizer, m.project.DocRoot, pipeline.ExecutionContext{
		RunID:    runID,
		Log:      func(ev events.LogEvent) { m.broker.Publish(runID, ev) },
		DebugDir: llm.DebugDirFor(m.dbPath),
	})
	m.execMu.Lock()
	m.executors[runID] = executor
	m.execMu.Unlock()
	defer func() {
		m.execMu.Lock()
		delete(m.executors, runID)
		m.execMu.Unlock()
		executor.Close()
	}()

	execErr := executor.Execute(runCtx, scope, documentIDs)

	switch {
	case errors.Is(execErr, pipeline.ErrCancelled) || runCtx.Err() != nil:
		m.finalize(db, runID, models.RunStatusCancelled, "", false)
		logger.Info("Run cancelled")
	case execErr != nil:
		m.broker.Publish(runID, events.LogEvent{
			RunID: runID, Level: events.LevelError, Message: execErr.Error(),
		})
		m.broker.Publish(runID, events.LogEvent{
			RunID: runID, Level: events.LevelDebug, Message: fmt.Sprintf("%+v", execErr),
		})
		m.finalize(db, runID, models.RunStatusFailed, execErr.Error(), false)
		logger.Error("Run failed", "error", execErr)
	default:
		m.finalize(db, runID, models.RunStatusCompleted, "", false)
		logger.Info("Run completed")
	}
}

// finalize applies the terminal status with the appropriate conditional
// update. Completion uses update-if-running so a concurrently-served cancel
// wins; cancel and failure use update-if-active so nothing overwrites a
// prior terminal. When the primary handle is unusable (locked), one retry
// on a fresh handle is attempted; both failures are logged, never
// propagated.
func (m *Manager) finalize(db *sql.DB, runID int64, status models.RunStatus, errorMessage string, freshHandle bool) {
	apply := func(q database.Querier) (int64, error) {
		if status == models.RunStatusCompleted {
			return repository.UpdateRunIfRunning(context.Background(), q, runID, status, errorMessage)
		}
		return repository.UpdateRunIfActive(context.Background(), q, runID, status, errorMessage)
	}

	if db != nil && !freshHandle {
		if _, err := apply(db); err == nil {
			return
		} else if !isLockError(err) {
			m.logger.Error("Failed to finalize run status", "run_id", runID, "status", status, "error", err)
			return
		} else {
			m.logger.Warn("Primary handle unusable during finalize, retrying on fresh handle",
				"run_id", runID, "error", err)
		}
	}

	fresh, err := database.Open(m.dbPath)
	if err != nil {
		m.logger.Error("Failed to open fresh handle for finalize", "run_id", runID, "error", err)
		return
	}
	defer fresh.Close()
	if _, err := apply(fresh); err != nil {
		m.logger.Error("Failed to finalize run status on fresh handle",
			"run_id", runID, "status", status, "error", err)
	}
}

func (m *Manager) newLLMClient() llm.Client {
	// A fresh client per run resets the debug-file counter.
	return llm.NewClient(m.llmCfg, llm.DebugDirFor(m.dbPath))
}

func isLockError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}
