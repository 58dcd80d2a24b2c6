package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
	"github.com/codyseavey/portfolio-tracker/backend/internal/services"
)

type HoldingHandler struct {
	db        *gorm.DB
	reconcile *services.ReconcileService
	importer  *services.ImportService
	overrides *services.OverrideStore
}

func NewHoldingHandler(db *gorm.DB, reconcile *services.ReconcileService, importer *services.ImportService, overrides *services.OverrideStore) *HoldingHandler {
	return &HoldingHandler{
		db:        db,
		reconcile: reconcile,
		importer:  importer,
		overrides: overrides,
	}
}

// GetHoldings returns all stored holdings, optionally filtered by account
func (h *HoldingHandler) GetHoldings(c *gin.Context) {
	var holdings []models.Holding
	query := h.db.Order("account_id, security_name")
	if account := c.Query("account"); account != "" {
		query = query.Where("account_id = ?", account)
	}
	if err := query.Find(&holdings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.HoldingListResult{
		Holdings:   holdings,
		TotalCount: len(holdings),
	})
}

// GetHolding returns one holding by id
func (h *HoldingHandler) GetHolding(c *gin.Context) {
	holding, ok := h.findHolding(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, holding)
}

// TargetUpdateRequest is the body for a manual target edit
type TargetUpdateRequest struct {
	Target       float64  `json:"target" binding:"required"`
	TargetHigh   *float64 `json:"target_high"`
	TargetLow    *float64 `json:"target_low"`
	AnalystCount *int     `json:"analyst_count"`
}

// UpdateTarget applies a manual price target edit. Manual edits set the
// override flag, which blocks every automatic resolution pass until the
// user explicitly resumes automatic mode.
func (h *HoldingHandler) UpdateTarget(c *gin.Context) {
	holding, ok := h.findHolding(c)
	if !ok {
		return
	}

	var req TargetUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Target <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target must be positive"})
		return
	}

	now := time.Now()
	eur := "EUR"
	holding.Target = &req.Target
	holding.TargetDate = &now
	holding.TargetCurrency = &eur
	holding.TargetHigh = req.TargetHigh
	holding.TargetLow = req.TargetLow
	holding.AnalystCount = req.AnalystCount
	holding.SourceTag = models.TargetSourceOther1
	holding.ManualOverride = true

	if err := h.db.Save(holding).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, holding)
}

// ClearTarget drops a holding's target and resumes automatic resolution
func (h *HoldingHandler) ClearTarget(c *gin.Context) {
	holding, ok := h.findHolding(c)
	if !ok {
		return
	}

	holding.PriceTargetRecord.Clear()

	if err := h.db.Save(holding).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, holding)
}

// GetPositionHistory returns the per-snapshot time series for one holding
func (h *HoldingHandler) GetPositionHistory(c *gin.Context) {
	holding, ok := h.findHolding(c)
	if !ok {
		return
	}
	if holding.ISIN == "" {
		c.JSON(http.StatusOK, []models.PositionHistoryPoint{})
		return
	}

	points, err := h.reconcile.GetPositionHistory(holding.ISIN, holding.AccountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, points)
}

// DeleteAll wipes the holding store. Manual targets are backed up to the
// side-store first so the next import can reattach them.
func (h *HoldingHandler) DeleteAll(c *gin.Context) {
	if err := h.importer.DeleteAllHoldings(h.overrides); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *HoldingHandler) findHolding(c *gin.Context) (*models.Holding, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid holding id"})
		return nil, false
	}

	var holding models.Holding
	if err := h.db.First(&holding, uint(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "holding not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return &holding, true
}
