// Package api provides the HTTP API: project catalog CRUD, document upload,
// term curation, glossary access, run control, and SSE log streaming.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lexigen/lexigen/pkg/config"
	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/pipeline"
	"github.com/lexigen/lexigen/pkg/repository"
	"github.com/lexigen/lexigen/pkg/runs"
	"github.com/lexigen/lexigen/pkg/version"
)

// maxBodyBytes bounds request bodies at the HTTP read level: a bulk upload
// of documents at the 3 MiB content cap plus JSON envelope overhead.
const maxBodyBytes = 64 << 20

// projectHandle bundles a project's database handle and run manager. One
// handle per project, created on first touch and kept for the server's
// lifetime.
type projectHandle struct {
	project *models.Project
	db      *sql.DB
	dbPath  string
	manager *runs.Manager
}

// Server is the HTTP API server.
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server
	catalog    *sql.DB
	tokenizer  pipeline.Tokenizer

	mu       sync.Mutex
	projects map[int64]*projectHandle
}

// NewServer creates the API server over an opened catalog database.
func NewServer(cfg *config.Config, catalog *sql.DB, tok pipeline.Tokenizer) *Server {
	s := &Server{
		cfg:       cfg,
		router:    gin.New(),
		catalog:   catalog,
		tokenizer: tok,
		projects:  make(map[int64]*projectHandle),
	}
	s.router.Use(gin.Recovery(), bodyLimit(maxBodyBytes))
	s.setupRoutes()
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api")
	api.POST("/projects", s.createProjectHandler)
	api.GET("/projects", s.listProjectsHandler)

	p := api.Group("/projects/:pid")
	p.GET("", s.getProjectHandler)
	p.PATCH("", s.patchProjectHandler)

	p.POST("/runs", s.startRunHandler)
	p.GET("/runs", s.listRunsHandler)
	p.GET("/runs/current", s.currentRunHandler)
	p.POST("/runs/:rid/cancel", s.cancelRunHandler)
	p.GET("/runs/:rid/logs", s.streamRunLogsHandler)

	p.POST("/files/bulk", s.bulkFilesHandler)
	p.GET("/documents", s.listDocumentsHandler)
	p.GET("/documents/:id", s.getDocumentHandler)
	p.PATCH("/documents/:id", s.patchDocumentHandler)
	p.DELETE("/documents/:id", s.deleteDocumentHandler)

	p.GET("/terms", s.listTermsHandler)
	p.GET("/excluded-terms", s.listExcludedTermsHandler)
	p.POST("/excluded-terms", s.addExcludedTermHandler)
	p.DELETE("/excluded-terms/:id", s.deleteExcludedTermHandler)
	p.GET("/required-terms", s.listRequiredTermsHandler)
	p.POST("/required-terms", s.addRequiredTermHandler)
	p.DELETE("/required-terms/:id", s.deleteRequiredTermHandler)

	p.GET("/glossary/provisional", s.listProvisionalHandler)
	p.DELETE("/glossary/provisional/:id", s.deleteProvisionalHandler)
	p.GET("/glossary/refined", s.listRefinedHandler)
	p.DELETE("/glossary/refined/:id", s.deleteRefinedHandler)
	p.GET("/issues", s.listIssuesHandler)
	p.GET("/synonym-groups", s.listSynonymGroupsHandler)
	p.DELETE("/synonym-groups/:id", s.deleteSynonymGroupHandler)
}

// Start runs the HTTP server (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener; tests use it for
// OS-assigned ports.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown drains the HTTP server and waits for in-flight runs.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.mu.Lock()
	handles := make([]*projectHandle, 0, len(s.projects))
	for _, h := range s.projects {
		handles = append(handles, h)
	}
	s.mu.Unlock()
	for _, h := range handles {
		h.manager.Wait()
		_ = h.db.Close()
	}
	return err
}

// handleFor returns (creating on first touch) the project handle: the
// per-project database is opened and migrated lazily, and its run manager
// constructed with the project's LLM settings over the configured defaults.
func (s *Server) handleFor(ctx context.Context, projectID int64) (*projectHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.projects[projectID]; ok {
		return h, nil
	}

	project, err := repository.GetProject(ctx, s.catalog, projectID)
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(s.cfg.ProjectsRoot, project.Name, "project.db")
	db, err := database.OpenAndMigrate(dbPath, database.ProjectMigrations)
	if err != nil {
		return nil, fmt.Errorf("open project database: %w", err)
	}

	llmCfg := llm.Config{
		APIKey:  s.cfg.LLM.APIKey,
		BaseURL: firstNonEmpty(project.LLMBaseURL, s.cfg.LLM.BaseURL),
		Model:   firstNonEmpty(project.LLMModel, s.cfg.LLM.Model),
		Timeout: s.cfg.LLMTimeout(),
	}

	h := &projectHandle{
		project: project,
		db:      db,
		dbPath:  dbPath,
		manager: runs.NewManager(project, db, dbPath, llmCfg, s.tokenizer),
	}
	s.projects[projectID] = h

	if removed := llm.CleanupDebugFiles(llm.DebugDirFor(dbPath), s.cfg.DebugRetention()); removed > 0 {
		slog.Info("Pruned llm-debug files", "project", project.Name, "count", removed)
	}
	return h, nil
}

func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.catalog)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"database": dbHealth,
	})
}

// bodyLimit rejects oversized payloads before deserialization.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
