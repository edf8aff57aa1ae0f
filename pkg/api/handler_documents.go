package api

import (
	"context"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/repository"
)

// bulkFilesHandler handles POST /api/projects/:pid/files/bulk. Every entry
// is validated before anything is created: one bad file name fails the
// whole batch with 400 and no documents are written. On success the
// documents are created in one transaction and an incremental extract run
// is triggered with the new ids.
func (s *Server) bulkFilesHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	var req BulkFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "files is empty"})
		return
	}

	var fileErrors []BulkFileError
	seen := make(map[string]bool, len(req.Files))
	normalized := make([]string, len(req.Files))
	for i, f := range req.Files {
		name, err := models.ValidateFileName(f.FileName)
		if err != nil {
			fileErrors = append(fileErrors, BulkFileError{FileName: f.FileName, Error: err.Error()})
			continue
		}
		if seen[name] {
			fileErrors = append(fileErrors, BulkFileError{FileName: f.FileName, Error: "duplicate file name in request"})
			continue
		}
		seen[name] = true
		normalized[i] = name

		if !utf8.ValidString(f.Content) {
			fileErrors = append(fileErrors, BulkFileError{FileName: f.FileName, Error: "content is not valid UTF-8"})
			continue
		}
		if len(f.Content) > models.MaxDocumentBytes {
			fileErrors = append(fileErrors, BulkFileError{
				FileName: f.FileName,
				Error:    fmt.Sprintf("content exceeds %d bytes", models.MaxDocumentBytes),
			})
		}
	}
	if len(fileErrors) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": fileErrors})
		return
	}

	ids := make([]int64, 0, len(req.Files))
	err := database.Transaction(c.Request.Context(), h.db, func(ctx context.Context, q database.Querier) error {
		for i, f := range req.Files {
			id, err := repository.CreateDocument(ctx, q, normalized[i], f.Content)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := gin.H{"document_ids": ids}
	runID, err := h.manager.StartRun(c.Request.Context(), models.ScopeExtract, "upload", ids)
	if err != nil {
		// Upload succeeded; the caller retries extraction once the active
		// run finishes.
		resp["run_error"] = err.Error()
	} else {
		resp["run_id"] = runID
	}
	c.JSON(http.StatusCreated, resp)
}

// listDocumentsHandler handles GET /api/projects/:pid/documents.
func (s *Server) listDocumentsHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	docs, err := repository.ListDocuments(c.Request.Context(), h.db)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

// getDocumentHandler handles GET /api/projects/:pid/documents/:id.
func (s *Server) getDocumentHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	doc, err := repository.GetDocument(c.Request.Context(), h.db, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// patchDocumentHandler handles PATCH /api/projects/:pid/documents/:id:
// content is mutated only by full replacement.
func (s *Server) patchDocumentHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req PatchDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !utf8.ValidString(req.Content) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is not valid UTF-8"})
		return
	}
	if len(req.Content) > models.MaxDocumentBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("content exceeds %d bytes", models.MaxDocumentBytes)})
		return
	}

	err := database.Transaction(c.Request.Context(), h.db, func(ctx context.Context, q database.Querier) error {
		return repository.ReplaceDocumentContent(ctx, q, id, req.Content)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	doc, err := repository.GetDocument(c.Request.Context(), h.db, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// deleteDocumentHandler handles DELETE /api/projects/:pid/documents/:id.
func (s *Server) deleteDocumentHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	err := database.Transaction(c.Request.Context(), h.db, func(ctx context.Context, q database.Querier) error {
		return repository.DeleteDocument(ctx, q, id)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
