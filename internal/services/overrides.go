package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

// manualBackupKey is the side-store slot holding the manual-target backup blob
const manualBackupKey = "manual_target_backup"

// ManualTargetBackup is one exported manual override, keyed by both security
// identifiers so restore can match on either.
type ManualTargetBackup struct {
	ISIN               string     `json:"isin"`
	NationalSecurityID string     `json:"nationalSecurityId"`
	Target             float64    `json:"target"`
	TargetDate         *time.Time `json:"targetDate,omitempty"`
	AnalystSpreadPct   *float64   `json:"analystSpreadPct,omitempty"`
	SourceTag          string     `json:"sourceTag,omitempty"`
	TargetCurrency     *string    `json:"targetCurrency,omitempty"`
	TargetHigh         *float64   `json:"targetHigh,omitempty"`
	TargetLow          *float64   `json:"targetLow,omitempty"`
	AnalystCount       *int       `json:"analystCount,omitempty"`
}

// OverrideStore persists manual price targets across a full holdings wipe.
// Snapshot writes the blob, Restore reattaches and clears it: an explicit
// transaction bracketing the delete-all operation, not a parallel store that
// stays in sync on its own.
type OverrideStore struct {
	db *gorm.DB
}

// NewOverrideStore creates a new override side-store
func NewOverrideStore(db *gorm.DB) *OverrideStore {
	return &OverrideStore{db: db}
}

// Snapshot saves the manual overrides among the given holdings to the
// side-store. An empty set clears the slot.
func (s *OverrideStore) Snapshot(holdings []models.Holding) error {
	var backups []ManualTargetBackup
	for _, h := range holdings {
		if !h.ManualOverride || h.Target == nil {
			continue
		}
		backups = append(backups, ManualTargetBackup{
			ISIN:               h.ISIN,
			NationalSecurityID: h.NationalSecurityID,
			Target:             *h.Target,
			TargetDate:         h.TargetDate,
			AnalystSpreadPct:   h.AnalystSpreadPct,
			SourceTag:          string(h.SourceTag),
			TargetCurrency:     h.TargetCurrency,
			TargetHigh:         h.TargetHigh,
			TargetLow:          h.TargetLow,
			AnalystCount:       h.AnalystCount,
		})
	}

	if len(backups) == 0 {
		return s.Clear()
	}

	blob, err := json.Marshal(backups)
	if err != nil {
		return fmt.Errorf("failed to marshal override backup: %w", err)
	}

	entry := models.KVEntry{Key: manualBackupKey, Value: string(blob)}
	if err := s.db.Save(&entry).Error; err != nil {
		return fmt.Errorf("failed to save override backup: %w", err)
	}

	log.Printf("Override store: saved %d manual targets", len(backups))
	return nil
}

// Load returns the saved backups, or nil when the slot is empty
func (s *OverrideStore) Load() ([]ManualTargetBackup, error) {
	var entry models.KVEntry
	err := s.db.Where("key = ?", manualBackupKey).First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load override backup: %w", err)
	}

	var backups []ManualTargetBackup
	if err := json.Unmarshal([]byte(entry.Value), &backups); err != nil {
		return nil, fmt.Errorf("failed to parse override backup: %w", err)
	}
	return backups, nil
}

// Clear empties the side-store slot
func (s *OverrideStore) Clear() error {
	return s.db.Where("key = ?", manualBackupKey).Delete(&models.KVEntry{}).Error
}

// Restore reattaches saved manual overrides to matching holdings (either
// identifier matches) and clears the store. Returns the number of targets
// successfully reattached.
func (s *OverrideStore) Restore(holdings []*models.Holding) (int, error) {
	backups, err := s.Load()
	if err != nil {
		return 0, err
	}
	if len(backups) == 0 {
		return 0, nil
	}

	restored := 0
	for _, backup := range backups {
		for _, h := range holdings {
			if !backupMatches(backup, h) {
				continue
			}
			target := backup.Target
			h.Target = &target
			h.TargetDate = backup.TargetDate
			h.AnalystSpreadPct = backup.AnalystSpreadPct
			h.SourceTag = models.TargetSource(backup.SourceTag)
			h.TargetCurrency = backup.TargetCurrency
			h.TargetHigh = backup.TargetHigh
			h.TargetLow = backup.TargetLow
			h.AnalystCount = backup.AnalystCount
			h.ManualOverride = true
			restored++
			break
		}
	}

	if err := s.Clear(); err != nil {
		return restored, err
	}

	if restored > 0 {
		log.Printf("Override store: restored %d of %d saved manual targets", restored, len(backups))
	}
	return restored, nil
}

func backupMatches(backup ManualTargetBackup, h *models.Holding) bool {
	if backup.ISIN != "" && backup.ISIN == h.ISIN {
		return true
	}
	if backup.NationalSecurityID != "" && backup.NationalSecurityID == h.NationalSecurityID {
		return true
	}
	return false
}
