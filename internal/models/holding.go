package models

import (
	"strings"
	"time"
)

// TargetSource identifies where a holding's price target came from
type TargetSource string

const (
	TargetSourceNone    TargetSource = ""
	TargetSourceCSV     TargetSource = "csv"
	TargetSourceAPI     TargetSource = "api"
	TargetSourceLLM     TargetSource = "llm"
	TargetSourceScrape  TargetSource = "scrape"
	TargetSourceSnippet TargetSource = "snippet"
	TargetSourceOther1  TargetSource = "other1"
	TargetSourceOther2  TargetSource = "other2"
)

// AllTargetSources returns all valid target sources
func AllTargetSources() []TargetSource {
	return []TargetSource{
		TargetSourceCSV,
		TargetSourceAPI,
		TargetSourceLLM,
		TargetSourceScrape,
		TargetSourceSnippet,
		TargetSourceOther1,
		TargetSourceOther2,
	}
}

// PriceTargetRecord holds the resolved analyst price target for a holding.
// Embedded in Holding so target state travels with the position row.
type PriceTargetRecord struct {
	Target           *float64     `json:"target"`
	TargetDate       *time.Time   `json:"target_date"`
	AnalystSpreadPct *float64     `json:"analyst_spread_pct"`
	SourceTag        TargetSource `json:"source_tag" gorm:"default:''"`
	TargetCurrency   *string      `json:"target_currency"`
	TargetHigh       *float64     `json:"target_high"`
	TargetLow        *float64     `json:"target_low"`
	AnalystCount     *int         `json:"analyst_count"`
	ManualOverride   bool         `json:"manual_override" gorm:"default:false"`
}

// HasTarget returns true if a price target is set
func (r *PriceTargetRecord) HasTarget() bool {
	return r.Target != nil
}

// Clear wipes the target and all dependent fields.
// Callers are responsible for the CSV/manual preservation policy.
func (r *PriceTargetRecord) Clear() {
	r.Target = nil
	r.TargetDate = nil
	r.AnalystSpreadPct = nil
	r.SourceTag = TargetSourceNone
	r.TargetCurrency = nil
	r.TargetHigh = nil
	r.TargetLow = nil
	r.AnalystCount = nil
	r.ManualOverride = false
}

// Holding represents one portfolio position from a bank export
type Holding struct {
	ID                 uint     `json:"id" gorm:"primaryKey"`
	AccountID          string   `json:"account_id" gorm:"not null;index:idx_holding_identity"`
	SecurityName       string   `json:"security_name"`
	NationalSecurityID string   `json:"national_security_id" gorm:"index:idx_holding_identity"`
	ISIN               string   `json:"isin" gorm:"index"`
	Currency           string   `json:"currency"`
	Quantity           float64  `json:"quantity"`
	CostBasisPrice     *float64 `json:"cost_basis_price"`
	CurrentPrice       *float64 `json:"current_price"`
	FxRate             *float64 `json:"fx_rate"`
	MarketValueEUR     *float64 `json:"market_value_eur"`
	InstrumentType     string   `json:"instrument_type"`

	PriceTargetRecord `gorm:"embedded"`

	// Carried forward from the prior snapshot by reconciliation
	PreviousMarketValueEUR *float64 `json:"previous_market_value_eur"`
	PreviousQuantity       *float64 `json:"previous_quantity"`
	PreviousPrice          *float64 `json:"previous_price"`

	// Zero-quantity tracking-only entries, never dropped by reconciliation
	WatchlistOnly bool `json:"watchlist_only" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SameIdentity reports whether two holdings are the same position.
// Two holdings match when the account matches exactly and
// either the national security id or the ISIN matches (both sides non-empty).
func (h *Holding) SameIdentity(other *Holding) bool {
	if h.AccountID != other.AccountID {
		return false
	}
	if h.NationalSecurityID != "" && h.NationalSecurityID == other.NationalSecurityID {
		return true
	}
	if h.ISIN != "" && h.ISIN == other.ISIN {
		return true
	}
	return false
}

// ReferencePrice returns the price a target's realism is judged against:
// current market price if known, else cost basis. Nil when neither is set.
func (h *Holding) ReferencePrice() *float64 {
	if h.CurrentPrice != nil {
		return h.CurrentPrice
	}
	return h.CostBasisPrice
}

// fundMarkers are substrings that flag fund/ETF-type instruments.
// Matching on free text is heuristic; kept as a standalone classifier so it
// can be swapped for a configured list without touching the resolver.
var fundMarkers = []string{"etf", "fonds", "fund", "etc", "index"}

// IsFundOrETF reports whether the holding looks like a fund or ETF based on
// its instrument type and security name.
func (h *Holding) IsFundOrETF() bool {
	haystack := strings.ToLower(h.InstrumentType + " " + h.SecurityName)
	for _, marker := range fundMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// HoldingListResult is the API response for holding listings
type HoldingListResult struct {
	Holdings   []Holding `json:"holdings"`
	TotalCount int       `json:"total_count"`
}
