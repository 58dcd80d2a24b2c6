package services

import (
	"context"
	"time"

	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

// TargetCandidate is one price target obtained from a single source, before
// plausibility checking and currency normalization.
type TargetCandidate struct {
	Target       float64
	Currency     string
	High         *float64
	Low          *float64
	AnalystCount *int
	SpreadPct    *float64
	Date         time.Time
	Source       models.TargetSource
}

// SourceClient is the uniform contract every target source implements.
// FetchTarget fails soft: network errors, parse failures and "no data" all
// return nil. Each client logs its own attempts to the debug trace.
// New sources are added by appending to the resolver's ordered client list.
type SourceClient interface {
	Name() string
	FetchTarget(ctx context.Context, holding *models.Holding) *TargetCandidate
}
