package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/portfolio-tracker/backend/internal/services"
)

type ResolveHandler struct {
	worker *services.ResolveWorker
}

func NewResolveHandler(worker *services.ResolveWorker) *ResolveHandler {
	return &ResolveHandler{worker: worker}
}

// RunBatch starts a full resolution pass in the background. A running pass
// cannot be cancelled; callers poll /api/resolve/status.
func (h *ResolveHandler) RunBatch(c *gin.Context) {
	force := c.Query("force") == "true"

	go func() {
		if _, err := h.worker.RunBatch(context.Background(), force); err != nil {
			log.Printf("Batch resolution failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "force": force})
}

// GetStatus returns batch progress and API quota
func (h *ResolveHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.GetStatus())
}

// RefreshHolding queues one holding for a forced refresh
func (h *ResolveHandler) RefreshHolding(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid holding id"})
		return
	}

	position := h.worker.QueueRefresh(uint(id))
	c.JSON(http.StatusAccepted, gin.H{"queue_position": position})
}

// GetTrace returns the debug trace of the last resolution activity
func (h *ResolveHandler) GetTrace(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entries": services.Trace().Entries(),
		"dropped": services.Trace().Dropped(),
	})
}
