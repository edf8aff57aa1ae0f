package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/repository"
)

func (s *Server) listProvisionalHandler(c *gin.Context) {
	s.listGlossary(c, repository.TableProvisional)
}

func (s *Server) listRefinedHandler(c *gin.Context) {
	s.listGlossary(c, repository.TableRefined)
}

func (s *Server) listGlossary(c *gin.Context, table string) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	entries, err := repository.ListGlossaryEntries(c.Request.Context(), h.db, table)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if entries == nil {
		entries = []models.GlossaryEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) deleteProvisionalHandler(c *gin.Context) {
	s.deleteByID(c, func(ctx context.Context, q database.Querier, id int64) error {
		return repository.DeleteGlossaryEntry(ctx, q, repository.TableProvisional, id)
	})
}

func (s *Server) deleteRefinedHandler(c *gin.Context) {
	s.deleteByID(c, func(ctx context.Context, q database.Querier, id int64) error {
		return repository.DeleteGlossaryEntry(ctx, q, repository.TableRefined, id)
	})
}

// listIssuesHandler handles GET /api/projects/:pid/issues.
func (s *Server) listIssuesHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	issues, err := repository.ListIssues(c.Request.Context(), h.db)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if issues == nil {
		issues = []models.Issue{}
	}
	c.JSON(http.StatusOK, issues)
}

// listSynonymGroupsHandler handles GET /api/projects/:pid/synonym-groups.
func (s *Server) listSynonymGroupsHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	groups, err := repository.ListSynonymGroups(c.Request.Context(), h.db)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if groups == nil {
		groups = []models.SynonymGroup{}
	}
	c.JSON(http.StatusOK, groups)
}

func (s *Server) deleteSynonymGroupHandler(c *gin.Context) {
	s.deleteByID(c, repository.DeleteSynonymGroup)
}
