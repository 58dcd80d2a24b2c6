package models

import (
	"time"
)

// SnapshotRetention is the number of import snapshots kept before the oldest
// is evicted along with its position history rows.
const SnapshotRetention = 10

// ImportSnapshot stores one completed portfolio import event
type ImportSnapshot struct {
	ID                    uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ImportDate            time.Time `json:"import_date" gorm:"uniqueIndex;not null"`
	TotalValuePreviousEUR float64   `json:"total_value_previous_eur"`
	TotalValueCurrentEUR  float64   `json:"total_value_current_eur"`
	CreatedAt             time.Time `json:"created_at"`
}

// PositionHistoryPoint is a per-holding, per-snapshot sample used to
// reconstruct target/price time series. Pruned in lockstep with
// ImportSnapshot eviction.
type PositionHistoryPoint struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ISIN       string    `json:"isin" gorm:"not null;uniqueIndex:idx_history_point"`
	AccountID  string    `json:"account_id" gorm:"not null;uniqueIndex:idx_history_point"`
	ImportDate time.Time `json:"import_date" gorm:"not null;uniqueIndex:idx_history_point"`
	Price      *float64  `json:"price"`
	Target     *float64  `json:"target"`
	SpreadPct  *float64  `json:"spread_pct"`
	CreatedAt  time.Time `json:"created_at"`
}

// ImportHistoryResponse is the API response for the snapshot series
type ImportHistoryResponse struct {
	Snapshots []ImportSnapshot `json:"snapshots"`
}

// KVEntry is an opaque key-value row used for side-channel blobs such as the
// manual-target backup written around a full wipe.
type KVEntry struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
