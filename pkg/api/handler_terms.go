package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/repository"
)

// listTermsHandler handles GET /api/projects/:pid/terms: the enumeration
// the UI shows, with required-only terms as synthetic negative-id rows.
func (s *Server) listTermsHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	terms, err := repository.VisibleTerms(c.Request.Context(), h.db)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if terms == nil {
		terms = []models.ExtractedTerm{}
	}
	c.JSON(http.StatusOK, terms)
}

func (s *Server) listExcludedTermsHandler(c *gin.Context) {
	s.listCuratedTerms(c, repository.ListExcludedTerms)
}

func (s *Server) listRequiredTermsHandler(c *gin.Context) {
	s.listCuratedTerms(c, repository.ListRequiredTerms)
}

func (s *Server) listCuratedTerms(c *gin.Context, list func(context.Context, database.Querier) ([]models.CuratedTerm, error)) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	terms, err := list(c.Request.Context(), h.db)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if terms == nil {
		terms = []models.CuratedTerm{}
	}
	c.JSON(http.StatusOK, terms)
}

// addExcludedTermHandler handles POST /api/projects/:pid/excluded-terms.
func (s *Server) addExcludedTermHandler(c *gin.Context) {
	s.addCuratedTerm(c, func(ctx context.Context, q database.Querier, text string) (int64, error) {
		return repository.AddExcludedTerm(ctx, q, text, models.TermSourceManual)
	})
}

// addRequiredTermHandler handles POST /api/projects/:pid/required-terms.
func (s *Server) addRequiredTermHandler(c *gin.Context) {
	s.addCuratedTerm(c, repository.AddRequiredTerm)
}

func (s *Server) addCuratedTerm(c *gin.Context, add func(context.Context, database.Querier, string) (int64, error)) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	var req TermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if repository.NormalizeTermText(req.TermText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "term_text is empty"})
		return
	}

	var id int64
	err := database.Transaction(c.Request.Context(), h.db, func(ctx context.Context, q database.Querier) error {
		var err error
		id, err = add(ctx, q, req.TermText)
		return err
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) deleteExcludedTermHandler(c *gin.Context) {
	s.deleteByID(c, repository.DeleteExcludedTerm)
}

func (s *Server) deleteRequiredTermHandler(c *gin.Context) {
	s.deleteByID(c, repository.DeleteRequiredTerm)
}

// deleteByID is the shared DELETE-by-id handler body.
func (s *Server) deleteByID(c *gin.Context, del func(context.Context, database.Querier, int64) error) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	err := database.Transaction(c.Request.Context(), h.db, func(ctx context.Context, q database.Querier) error {
		return del(ctx, q, id)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
