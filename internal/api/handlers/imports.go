package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
	"github.com/codyseavey/portfolio-tracker/backend/internal/services"
)

type ImportHandler struct {
	importer  *services.ImportService
	reconcile *services.ReconcileService
}

func NewImportHandler(importer *services.ImportService, reconcile *services.ReconcileService) *ImportHandler {
	return &ImportHandler{importer: importer, reconcile: reconcile}
}

// ImportCSV accepts a portfolio CSV export (raw body or multipart "file"
// field) and runs the import pipeline
func (h *ImportHandler) ImportCSV(c *gin.Context) {
	reader := c.Request.Body

	if file, err := c.FormFile("file"); err == nil {
		opened, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer opened.Close()
		reader = opened
	}

	result, err := h.importer.ImportCSV(reader)
	if err != nil {
		// Bad exports are the caller's fault; anything else is a storage
		// failure inside the pipeline
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidImport) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetHistory returns the retained import snapshot series
func (h *ImportHandler) GetHistory(c *gin.Context) {
	snapshots, err := h.reconcile.GetHistory()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.ImportHistoryResponse{Snapshots: snapshots})
}
