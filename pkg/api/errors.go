package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lexigen/lexigen/pkg/repository"
	"github.com/lexigen/lexigen/pkg/runs"
)

// abortWithError maps domain errors to HTTP responses.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, repository.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, runs.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, runs.ErrInvalidScope):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("Unexpected API error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// projectHandleOr404 resolves the :pid path parameter into a handle.
func (s *Server) projectHandleOr404(c *gin.Context) (*projectHandle, bool) {
	pid, ok := pathID(c, "pid")
	if !ok {
		return nil, false
	}
	h, err := s.handleFor(c.Request.Context(), pid)
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return h, true
}
