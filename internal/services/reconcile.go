package services

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/portfolio-tracker/backend/internal/metrics"
	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

// ReconcileService matches a freshly imported snapshot against the previous
// holdings, migrates history and price targets forward, and maintains the
// import snapshot series.
type ReconcileService struct {
	db        *gorm.DB
	overrides *OverrideStore
}

// ReconcileResult is the outcome of one reconciliation pass
type ReconcileResult struct {
	// Merged is the full post-import holding set: the new snapshot's
	// holdings plus survivors from the previous one
	Merged []*models.Holding
	// MigratedCount is the number of manual targets reattached from the
	// backup side-store
	MigratedCount int
	// StaleImport is true when the snapshot predates the newest known
	// import; such snapshots feed the value series only
	StaleImport bool
}

// NewReconcileService creates a new reconciliation service. overrides may be
// nil when the side-store restore step is not wanted.
func NewReconcileService(db *gorm.DB, overrides *OverrideStore) *ReconcileService {
	return &ReconcileService{db: db, overrides: overrides}
}

// Reconcile matches new holdings against previous ones.
//
// A previous holding is "the same position" when the account id matches
// exactly and either the national security id or the ISIN matches. On match
// the old current values shift into the previous-snapshot fields and the
// price target carries forward by priority: manual overrides verbatim,
// CSV-sourced targets when the new snapshot brought none, and fund/ETF
// targets (never auto-resolved) whatever their tag.
//
// Old holdings with no match are dropped as sold only when their account is
// represented in the new snapshot; partial-account imports leave unrelated
// accounts untouched. Watchlist entries are never dropped.
func (s *ReconcileService) Reconcile(previous []models.Holding, next []*models.Holding, importDate time.Time) (*ReconcileResult, error) {
	if err := checkDuplicateIdentities(next); err != nil {
		return nil, err
	}

	// A snapshot older than the newest known import must not touch any
	// holding; it only contributes to the total-value series.
	if latest, ok := s.latestImportDate(); ok && importDate.Before(latest) {
		result := &ReconcileResult{StaleImport: true}
		for i := range previous {
			h := previous[i]
			result.Merged = append(result.Merged, &h)
		}
		return result, nil
	}

	matched := make([]bool, len(previous))
	result := &ReconcileResult{}

	for _, newHolding := range next {
		var old *models.Holding
		for i := range previous {
			if !matched[i] && newHolding.SameIdentity(&previous[i]) {
				matched[i] = true
				old = &previous[i]
				break
			}
		}

		if old != nil {
			migrateForward(old, newHolding)
		}
		result.Merged = append(result.Merged, newHolding)
	}

	// Which accounts does the new snapshot cover?
	newAccounts := make(map[string]bool)
	for _, h := range next {
		newAccounts[h.AccountID] = true
	}

	for i := range previous {
		if matched[i] {
			continue
		}
		old := previous[i]
		if old.WatchlistOnly || !newAccounts[old.AccountID] {
			// Watchlist rows survive everything; holdings of accounts the
			// import did not cover are out of scope for deletion
			keep := old
			result.Merged = append(result.Merged, &keep)
		}
		// else: account was imported and the position is gone -> sold
	}

	if s.overrides != nil {
		restored, err := s.overrides.Restore(result.Merged)
		if err != nil {
			return nil, err
		}
		result.MigratedCount = restored
		metrics.HoldingsMigratedTotal.Add(float64(restored))
	}

	return result, nil
}

// migrateForward shifts the old holding's current values into the new
// holding's previous-snapshot fields and applies the target carry-forward
// policy
func migrateForward(old, newHolding *models.Holding) {
	newHolding.PreviousMarketValueEUR = old.MarketValueEUR
	newHolding.PreviousQuantity = &old.Quantity
	newHolding.PreviousPrice = old.CurrentPrice

	switch {
	case old.ManualOverride:
		// Manual overrides always carry forward verbatim
		newHolding.PriceTargetRecord = old.PriceTargetRecord
	case old.SourceTag == models.TargetSourceCSV && old.HasTarget() && !newHolding.HasTarget():
		newHolding.PriceTargetRecord = old.PriceTargetRecord
	case newHolding.IsFundOrETF() && old.HasTarget() && !newHolding.HasTarget():
		// Funds and ETFs get no automatic resolution; keep what we had,
		// whatever source produced it
		newHolding.PriceTargetRecord = old.PriceTargetRecord
	}
}

// checkDuplicateIdentities rejects a snapshot carrying the same position
// twice; one holding per identity per snapshot is a caller contract
func checkDuplicateIdentities(holdings []*models.Holding) error {
	for i := 0; i < len(holdings); i++ {
		for j := i + 1; j < len(holdings); j++ {
			if holdings[i].SameIdentity(holdings[j]) {
				return fmt.Errorf("%w: duplicate holding identity in snapshot: account %s, security %s/%s",
					ErrInvalidImport, holdings[i].AccountID, holdings[i].NationalSecurityID, holdings[i].ISIN)
			}
		}
	}
	return nil
}

// latestImportDate returns the newest recorded snapshot date
func (s *ReconcileService) latestImportDate() (time.Time, bool) {
	if s.db == nil {
		return time.Time{}, false
	}
	var snapshot models.ImportSnapshot
	if err := s.db.Order("import_date DESC").First(&snapshot).Error; err != nil {
		return time.Time{}, false
	}
	return snapshot.ImportDate, true
}

// TotalMarketValueEUR sums the market values of a holding set
func TotalMarketValueEUR(holdings []*models.Holding) float64 {
	total := 0.0
	for _, h := range holdings {
		if h.MarketValueEUR != nil {
			total += *h.MarketValueEUR
		}
	}
	return total
}

// RecordSnapshot stores the import event and one history point per holding,
// then prunes the series down to the retention window.
func (s *ReconcileService) RecordSnapshot(importDate time.Time, totalPrevious, totalCurrent float64, holdings []*models.Holding) error {
	snapshot := models.ImportSnapshot{
		ImportDate:            importDate,
		TotalValuePreviousEUR: totalPrevious,
		TotalValueCurrentEUR:  totalCurrent,
	}

	// Re-importing the same date replaces the earlier event
	result := s.db.Where("import_date = ?", importDate).
		Assign(models.ImportSnapshot{
			TotalValuePreviousEUR: totalPrevious,
			TotalValueCurrentEUR:  totalCurrent,
		}).
		FirstOrCreate(&snapshot)
	if result.Error != nil {
		return fmt.Errorf("failed to record import snapshot: %w", result.Error)
	}

	for _, h := range holdings {
		if h.ISIN == "" {
			continue
		}
		point := models.PositionHistoryPoint{
			ISIN:       h.ISIN,
			AccountID:  h.AccountID,
			ImportDate: importDate,
			Price:      h.CurrentPrice,
			Target:     h.Target,
			SpreadPct:  h.AnalystSpreadPct,
		}
		if err := s.db.Where("isin = ? AND account_id = ? AND import_date = ?", h.ISIN, h.AccountID, importDate).
			Assign(models.PositionHistoryPoint{
				Price:     h.CurrentPrice,
				Target:    h.Target,
				SpreadPct: h.AnalystSpreadPct,
			}).
			FirstOrCreate(&point).Error; err != nil {
			log.Printf("Failed to record history point for %s: %v", h.ISIN, err)
		}
	}

	return s.pruneSnapshots()
}

// pruneSnapshots evicts the oldest snapshots beyond the retention window,
// deleting their history points in lockstep
func (s *ReconcileService) pruneSnapshots() error {
	var count int64
	if err := s.db.Model(&models.ImportSnapshot{}).Count(&count).Error; err != nil {
		return err
	}
	if count <= models.SnapshotRetention {
		return nil
	}

	var evicted []models.ImportSnapshot
	if err := s.db.Order("import_date ASC").Limit(int(count) - models.SnapshotRetention).Find(&evicted).Error; err != nil {
		return err
	}

	for _, old := range evicted {
		if err := s.db.Where("import_date = ?", old.ImportDate).Delete(&models.PositionHistoryPoint{}).Error; err != nil {
			return fmt.Errorf("failed to prune history points: %w", err)
		}
		if err := s.db.Delete(&old).Error; err != nil {
			return fmt.Errorf("failed to evict snapshot: %w", err)
		}
		log.Printf("Evicted import snapshot %s (retention %d)", old.ImportDate.Format("2006-01-02"), models.SnapshotRetention)
	}
	return nil
}

// GetHistory returns the retained snapshot series, oldest first
func (s *ReconcileService) GetHistory() ([]models.ImportSnapshot, error) {
	var snapshots []models.ImportSnapshot
	if err := s.db.Order("import_date ASC").Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

// GetPositionHistory returns the time series for one position, oldest first
func (s *ReconcileService) GetPositionHistory(isin, accountID string) ([]models.PositionHistoryPoint, error) {
	var points []models.PositionHistoryPoint
	if err := s.db.Where("isin = ? AND account_id = ?", isin, accountID).
		Order("import_date ASC").Find(&points).Error; err != nil {
		return nil, err
	}
	return points, nil
}
