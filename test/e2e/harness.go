package e2e

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/repository"
	"github.com/lexigen/lexigen/pkg/runs"
)

// ScriptedTokenizer returns candidates keyed by substring match on the
// document content.
type ScriptedTokenizer struct {
	ByContent map[string][]string
}

// Candidates implements pipeline.Tokenizer.
func (s *ScriptedTokenizer) Candidates(text string) []string {
	for marker, terms := range s.ByContent {
		if strings.Contains(text, marker) {
			return terms
		}
	}
	return nil
}

// Harness wires a project database, a mock LLM server, and a run manager.
type Harness struct {
	T       *testing.T
	DB      *sql.DB
	DBPath  string
	LLM     *MockLLMServer
	Manager *runs.Manager
}

// NewHarness builds the full stack for one test project.
func NewHarness(t *testing.T, tok *ScriptedTokenizer) *Harness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "project.db")
	db, err := database.OpenAndMigrate(dbPath, database.ProjectMigrations)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock := NewMockLLMServer()
	t.Cleanup(mock.Close)

	project := &models.Project{ID: 1, Name: "e2e", LLMProvider: "openai", LLMModel: "mock"}
	manager := runs.NewManager(project, db, dbPath, llm.Config{
		BaseURL: mock.BaseURL(),
		Model:   "mock",
		Timeout: 10 * time.Second,
	}, tok)
	t.Cleanup(manager.Wait)

	return &Harness{T: t, DB: db, DBPath: dbPath, LLM: mock, Manager: manager}
}

// AddDocument registers a document directly in the store.
func (h *Harness) AddDocument(name, content string) int64 {
	h.T.Helper()
	var id int64
	err := database.Transaction(context.Background(), h.DB, func(ctx context.Context, q database.Querier) error {
		var err error
		id, err = repository.CreateDocument(ctx, q, name, content)
		return err
	})
	require.NoError(h.T, err)
	return id
}

// WaitTerminal polls until the run reaches a terminal status.
func (h *Harness) WaitTerminal(runID int64, timeout time.Duration) *models.Run {
	h.T.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run, err := h.Manager.GetRun(context.Background(), runID)
		require.NoError(h.T, err)
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.T.Fatalf("run %d did not reach a terminal status within %v", runID, timeout)
	return nil
}
