package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/repository"
)

// startRunHandler handles POST /api/projects/:pid/runs.
func (s *Server) startRunHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID, err := h.manager.StartRun(c.Request.Context(), models.Scope(req.Scope), "api", req.DocumentIDs)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run_id": runID})
}

// listRunsHandler handles GET /api/projects/:pid/runs, newest first.
func (s *Server) listRunsHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	runList, err := repository.ListRuns(c.Request.Context(), h.db, 50)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if runList == nil {
		runList = []*models.Run{}
	}
	c.JSON(http.StatusOK, runList)
}

// cancelRunHandler handles POST /api/projects/:pid/runs/:rid/cancel.
// Accepting an already-terminal run is a no-op 204.
func (s *Server) cancelRunHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	rid, ok := pathID(c, "rid")
	if !ok {
		return
	}
	if err := h.manager.CancelRun(c.Request.Context(), rid); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// currentRunHandler handles GET /api/projects/:pid/runs/current. Returns
// null when no run is active.
func (s *Server) currentRunHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	run, err := h.manager.GetCurrentRun(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// streamRunLogsHandler handles GET /api/projects/:pid/runs/:rid/logs as an
// SSE stream: buffered history first, then live events, ending with the
// complete sentinel.
func (s *Server) streamRunLogsHandler(c *gin.Context) {
	h, ok := s.projectHandleOr404(c)
	if !ok {
		return
	}
	rid, ok := pathID(c, "rid")
	if !ok {
		return
	}
	if _, err := h.manager.GetRun(c.Request.Context(), rid); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		abortWithError(c, err)
		return
	}

	subID, snapshot, live := h.manager.SubscribeLogs(rid)
	defer h.manager.UnsubscribeLogs(rid, subID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	for _, ev := range snapshot {
		c.SSEvent(eventName(ev.Complete), ev)
	}
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-live:
			if !open {
				return false
			}
			c.SSEvent(eventName(ev.Complete), ev)
			return !ev.Complete
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func eventName(complete bool) string {
	if complete {
		return "complete"
	}
	return "message"
}
