package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexigen/lexigen/pkg/config"
	"github.com/lexigen/lexigen/pkg/database"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedTokenizer returns candidates keyed by substring match.
type scriptedTokenizer struct {
	byContent map[string][]string
}

func (s *scriptedTokenizer) Candidates(text string) []string {
	for marker, terms := range s.byContent {
		if strings.Contains(text, marker) {
			return terms
		}
	}
	return nil
}

// newMockLLM serves chat completions that answer every prompt with a valid
// empty-ish structured object after an optional delay.
func newMockLLM(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		content := `{"issues": []}`
		if len(req.Messages) > 0 {
			prompt := req.Messages[0].Content
			switch {
			case strings.Contains(prompt, "分類する専門家"):
				var terms []map[string]string
				for _, line := range strings.Split(prompt, "\n") {
					if term, ok := strings.CutPrefix(line, "- "); ok {
						terms = append(terms, map[string]string{"term": term, "category": "technical"})
					}
				}
				data, _ := json.Marshal(map[string]any{"terms": terms})
				content = string(data)
			case strings.Contains(prompt, "定義を書いてください"), strings.Contains(prompt, "改訂版"):
				content = `{"name": "term", "definition": "A definition.", "confidence": 0.8, "aliases": []}`
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestServer(t *testing.T, tok *scriptedTokenizer, llmURL string) *Server {
	t.Helper()
	root := t.TempDir()
	catalog, err := database.OpenAndMigrate(filepath.Join(root, "catalog.db"), database.CatalogMigrations)
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	cfg := &config.Config{
		ProjectsRoot: root,
		LLM: config.LLMConfig{
			Model:          "mock",
			BaseURL:        llmURL,
			TimeoutSeconds: 10,
		},
	}
	cfg = mustLoadable(t, cfg)
	s := NewServer(cfg, catalog, tok)
	t.Cleanup(func() {
		for _, h := range s.projects {
			h.manager.Wait()
		}
	})
	return s
}

// mustLoadable round-trips the config through defaults.
func mustLoadable(t *testing.T, cfg *config.Config) *config.Config {
	cfg.HTTPPort = "0"
	if cfg.DebugRetentionHours == 0 {
		cfg.DebugRetentionHours = 1
	}
	return cfg
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func createProject(t *testing.T, s *Server) int64 {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/projects", map[string]string{"name": "demo"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var project struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))
	return project.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &scriptedTokenizer{}, "")
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestProjectCRUD(t *testing.T) {
	s := newTestServer(t, &scriptedTokenizer{}, "")
	pid := createProject(t, s)

	// Duplicate name conflicts.
	w := doJSON(t, s, http.MethodPost, "/api/projects", map[string]string{"name": "demo"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Traversal in a project name is rejected.
	w = doJSON(t, s, http.MethodPost, "/api/projects", map[string]string{"name": "../evil"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/projects", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPatch, fmt.Sprintf("/api/projects/%d", pid),
		map[string]string{"llm_model": "gpt-4o"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gpt-4o")

	w = doJSON(t, s, http.MethodGet, "/api/projects/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBulkUpload_InvalidNamesRejected(t *testing.T) {
	s := newTestServer(t, &scriptedTokenizer{}, "")
	pid := createProject(t, s)

	w := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/files/bulk", pid), map[string]any{
		"files": []map[string]string{
			{"file_name": "../etc/passwd", "content": "x"},
			{"file_name": "a//b.md", "content": "x"},
			{"file_name": "con.txt", "content": "x"},
			{"file_name": "x.exe", "content": "x"},
			{"file_name": "fine.txt", "content": "x"},
		},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Errors []BulkFileError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Errors, 4, "each offending entry is reported")

	// Nothing was created and no run triggered.
	w = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/projects/%d/documents", pid), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	w = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/projects/%d/runs/current", pid), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", strings.TrimSpace(w.Body.String()))
}

func TestBulkUpload_TriggersExtract(t *testing.T) {
	llmServer := newMockLLM(t, 0)
	s := newTestServer(t, &scriptedTokenizer{}, llmServer.URL+"/v1")
	pid := createProject(t, s)

	w := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/files/bulk", pid), map[string]any{
		"files": []map[string]string{
			{"file_name": "one.txt", "content": "first document"},
			{"file_name": "dir/two.md", "content": "second document"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		DocumentIDs []int64 `json:"document_ids"`
		RunID       int64   `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.DocumentIDs, 2)
	assert.Positive(t, resp.RunID)

	waitNoCurrentRun(t, s, pid)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	llmServer := newMockLLM(t, 0)
	tok := &scriptedTokenizer{byContent: map[string][]string{"corpus": {"Widget"}}}
	s := newTestServer(t, tok, llmServer.URL+"/v1")
	pid := createProject(t, s)

	w := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/files/bulk", pid), map[string]any{
		"files": []map[string]string{{"file_name": "doc.txt", "content": "corpus"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	waitNoCurrentRun(t, s, pid)

	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/runs", pid),
		map[string]any{"scope": "full"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var started struct {
		RunID int64 `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	waitNoCurrentRun(t, s, pid)

	// Cancel after completion is still a 204 no-op.
	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/runs/%d/cancel", pid, started.RunID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/runs/12345/cancel", pid), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/projects/%d/glossary/refined", pid), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "A definition.")
}

func TestStartRun_ConflictWhenActive(t *testing.T) {
	llmServer := newMockLLM(t, 150*time.Millisecond)
	tok := &scriptedTokenizer{byContent: map[string][]string{"corpus": {"Widget", "Gadget"}}}
	s := newTestServer(t, tok, llmServer.URL+"/v1")
	pid := createProject(t, s)

	w := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/files/bulk", pid), map[string]any{
		"files": []map[string]string{{"file_name": "doc.txt", "content": "corpus"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// The upload's extract run is still busy on the slow LLM.
	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/runs", pid),
		map[string]any{"scope": "full"})
	assert.Equal(t, http.StatusConflict, w.Code)

	waitNoCurrentRun(t, s, pid)
}

func TestStartRun_BadScope(t *testing.T) {
	s := newTestServer(t, &scriptedTokenizer{}, "")
	pid := createProject(t, s)

	w := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/runs", pid),
		map[string]any{"scope": "everything"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSSELogStream(t *testing.T) {
	llmServer := newMockLLM(t, 0)
	tok := &scriptedTokenizer{byContent: map[string][]string{"corpus": {"Widget"}}}
	s := newTestServer(t, tok, llmServer.URL+"/v1")
	pid := createProject(t, s)

	httpServer := httptest.NewServer(s.Router())
	t.Cleanup(httpServer.Close)

	w := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/files/bulk", pid), map[string]any{
		"files": []map[string]string{{"file_name": "doc.txt", "content": "corpus"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		RunID int64 `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	res, err := http.Get(fmt.Sprintf("%s/api/projects/%d/runs/%d/logs", httpServer.URL, pid, resp.RunID))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	sawMessage, sawComplete := false, false
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			if strings.Contains(line, "message") {
				sawMessage = true
			}
			if strings.Contains(line, "complete") {
				sawComplete = true
				break
			}
		}
	}
	assert.True(t, sawMessage, "log events delivered")
	assert.True(t, sawComplete, "stream ends with the complete sentinel")

	// Unknown run id is a 404.
	res2, err := http.Get(fmt.Sprintf("%s/api/projects/%d/runs/99999/logs", httpServer.URL, pid))
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusNotFound, res2.StatusCode)
}

func TestTermCuration(t *testing.T) {
	s := newTestServer(t, &scriptedTokenizer{}, "")
	pid := createProject(t, s)

	w := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/required-terms", pid),
		map[string]string{"term_text": "Grimoire"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/excluded-terms", pid),
		map[string]string{"term_text": "Grimoire"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/excluded-terms", pid),
		map[string]string{"term_text": "Grimoire"})
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate term text")

	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/projects/%d/excluded-terms", pid),
		map[string]string{"term_text": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty term text")

	// Required term is visible even though it is also excluded.
	w = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/projects/%d/terms", pid), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var terms []struct {
		ID       int64  `json:"id"`
		TermText string `json:"term_text"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &terms))
	require.Len(t, terms, 1)
	assert.Equal(t, "Grimoire", terms[0].TermText)
	assert.Negative(t, terms[0].ID)

	w = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/projects/%d/required-terms/1", pid), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/projects/%d/required-terms/1", pid), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// waitNoCurrentRun polls runs/current until the active run finishes.
func waitNoCurrentRun(t *testing.T, s *Server, pid int64) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/projects/%d/runs/current", pid), nil)
		require.Equal(t, http.StatusOK, w.Code)
		if strings.TrimSpace(w.Body.String()) == "null" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
}
