package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/repository"
)

// createProjectHandler handles POST /api/projects. The project name doubles
// as the directory segment for the per-project database, so it must be a
// valid single path segment.
func (s *Server) createProjectHandler(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := models.ValidateFileName(req.Name + ".txt"); err != nil || strings.ContainsRune(req.Name, '/') {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project name"})
		return
	}

	project := &models.Project{
		Name:        req.Name,
		DocRoot:     req.DocRoot,
		LLMProvider: req.LLMProvider,
		LLMModel:    req.LLMModel,
		LLMBaseURL:  req.LLMBaseURL,
	}
	var id int64
	err := database.Transaction(c.Request.Context(), s.catalog, func(ctx context.Context, q database.Querier) error {
		var err error
		id, err = repository.CreateProject(ctx, q, project)
		return err
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	created, err := repository.GetProject(c.Request.Context(), s.catalog, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// listProjectsHandler handles GET /api/projects.
func (s *Server) listProjectsHandler(c *gin.Context) {
	projects, err := repository.ListProjects(c.Request.Context(), s.catalog)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	c.JSON(http.StatusOK, projects)
}

// getProjectHandler handles GET /api/projects/:pid.
func (s *Server) getProjectHandler(c *gin.Context) {
	pid, ok := pathID(c, "pid")
	if !ok {
		return
	}
	project, err := repository.GetProject(c.Request.Context(), s.catalog, pid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// patchProjectHandler handles PATCH /api/projects/:pid. Settings changes
// apply to managers created afterwards; an open handle keeps its settings
// until restart.
func (s *Server) patchProjectHandler(c *gin.Context) {
	pid, ok := pathID(c, "pid")
	if !ok {
		return
	}
	var req PatchProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := repository.GetProject(c.Request.Context(), s.catalog, pid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	docRoot := project.DocRoot
	provider := project.LLMProvider
	model := project.LLMModel
	baseURL := project.LLMBaseURL
	if req.DocRoot != nil {
		docRoot = *req.DocRoot
	}
	if req.LLMProvider != nil {
		provider = *req.LLMProvider
	}
	if req.LLMModel != nil {
		model = *req.LLMModel
	}
	if req.LLMBaseURL != nil {
		baseURL = *req.LLMBaseURL
	}

	err = database.Transaction(c.Request.Context(), s.catalog, func(ctx context.Context, q database.Querier) error {
		return repository.UpdateProjectSettings(ctx, q, pid, docRoot, provider, model, baseURL)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	updated, err := repository.GetProject(c.Request.Context(), s.catalog, pid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
