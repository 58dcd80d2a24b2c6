package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codyseavey/portfolio-tracker/backend/internal/metrics"
	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

const (
	targetAPIDefaultBaseURL = "https://api.consensusdata.io/v1"
	targetAPIDefaultTimeout = 10 * time.Second
	symbolCacheSize         = 512
)

// StructuredAPIService fetches analyst consensus targets from the structured
// data API. Lookups by ISIN are two-step: resolve ISIN to a ticker symbol,
// then fetch the consensus for that symbol. Symbol resolutions are cached.
type StructuredAPIService struct {
	client      *http.Client
	apiKey      string
	baseURL     string
	dailyLimit  int
	symbolCache *lru.Cache[string, string] // ISIN -> ticker symbol

	// Daily quota accounting
	mu             sync.Mutex
	requestsToday  int
	lastRequestDay time.Time
}

type consensusResponse struct {
	Success bool          `json:"success"`
	Data    consensusData `json:"data"`
	Error   string        `json:"error,omitempty"`
}

type consensusData struct {
	Symbol       string   `json:"symbol"`
	TargetMean   float64  `json:"target_mean"`
	TargetHigh   *float64 `json:"target_high"`
	TargetLow    *float64 `json:"target_low"`
	Currency     string   `json:"currency"`
	AnalystCount *int     `json:"number_of_analysts"`
	SpreadPct    *float64 `json:"average_spread_pct"`
	UpdatedAt    string   `json:"updated_at"`
}

type symbolLookupResponse struct {
	Success bool   `json:"success"`
	Symbol  string `json:"symbol"`
	Error   string `json:"error,omitempty"`
}

type bulkTargetsResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		SecurityID string `json:"security_id"`
		consensusData
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// NewStructuredAPIService creates a new structured API client. An empty API
// key disables the client entirely; the resolver skips disabled clients.
func NewStructuredAPIService(apiKey, baseURL string, dailyLimit int) *StructuredAPIService {
	if baseURL == "" {
		baseURL = targetAPIDefaultBaseURL
	}
	if dailyLimit <= 0 {
		dailyLimit = 250 // Default free tier limit
	}

	cache, err := lru.New[string, string](symbolCacheSize)
	if err != nil {
		log.Printf("Failed to create symbol cache: %v", err)
	}

	svc := &StructuredAPIService{
		client:      &http.Client{Timeout: targetAPIDefaultTimeout},
		apiKey:      apiKey,
		baseURL:     baseURL,
		dailyLimit:  dailyLimit,
		symbolCache: cache,
	}

	metrics.TargetAPIQuotaLimit.Set(float64(dailyLimit))

	if svc.IsEnabled() {
		log.Printf("Structured API service: enabled (daily limit %d)", dailyLimit)
	} else {
		log.Printf("Structured API service: disabled (no API key)")
	}

	return svc
}

// IsEnabled returns whether an API key is configured
func (s *StructuredAPIService) IsEnabled() bool {
	return s.apiKey != ""
}

func (s *StructuredAPIService) Name() string {
	return "structured_api"
}

// checkDailyLimit checks if we can make another request today.
// Returns true if the request can proceed, false if rate limited.
func (s *StructuredAPIService) checkDailyLimit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Reset counter if new day
	if s.lastRequestDay.Before(today) {
		s.requestsToday = 0
		s.lastRequestDay = today
	}

	if s.requestsToday >= s.dailyLimit {
		return false
	}

	s.requestsToday++
	metrics.TargetAPIRequestsTotal.Inc()
	metrics.TargetAPIQuotaRemaining.Set(float64(s.dailyLimit - s.requestsToday))
	return true
}

// GetRequestsRemaining returns the number of requests remaining today
func (s *StructuredAPIService) GetRequestsRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if s.lastRequestDay.Before(today) {
		return s.dailyLimit
	}

	remaining := s.dailyLimit - s.requestsToday
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetDailyLimit returns the configured daily limit
func (s *StructuredAPIService) GetDailyLimit() int {
	return s.dailyLimit
}

// GetResetTime returns the next daily reset time (midnight)
func (s *StructuredAPIService) GetResetTime() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
}

func (s *StructuredAPIService) doGet(ctx context.Context, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("target API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// LookupSymbol resolves an ISIN to a ticker symbol, using the LRU cache first
func (s *StructuredAPIService) LookupSymbol(ctx context.Context, isin string) (string, error) {
	if s.symbolCache != nil {
		if symbol, ok := s.symbolCache.Get(isin); ok {
			metrics.SymbolCacheHits.Inc()
			return symbol, nil
		}
		metrics.SymbolCacheMisses.Inc()
	}

	if !s.checkDailyLimit() {
		return "", fmt.Errorf("target API daily rate limit exceeded")
	}

	reqURL := fmt.Sprintf("%s/symbol/lookup?isin=%s", s.baseURL, url.QueryEscape(isin))

	var lookup symbolLookupResponse
	if err := s.doGet(ctx, reqURL, &lookup); err != nil {
		return "", err
	}
	if !lookup.Success || lookup.Symbol == "" {
		if lookup.Error != "" {
			return "", fmt.Errorf("target API error: %s", lookup.Error)
		}
		return "", fmt.Errorf("no symbol found for ISIN %s", isin)
	}

	if s.symbolCache != nil {
		s.symbolCache.Add(isin, lookup.Symbol)
	}
	return lookup.Symbol, nil
}

// GetConsensusTarget fetches the analyst consensus for a ticker symbol
func (s *StructuredAPIService) GetConsensusTarget(ctx context.Context, symbol string) (*TargetCandidate, error) {
	if !s.checkDailyLimit() {
		return nil, fmt.Errorf("target API daily rate limit exceeded")
	}

	reqURL := fmt.Sprintf("%s/targets/consensus?symbol=%s", s.baseURL, url.QueryEscape(symbol))

	var consensus consensusResponse
	if err := s.doGet(ctx, reqURL, &consensus); err != nil {
		return nil, err
	}
	if !consensus.Success {
		if consensus.Error != "" {
			return nil, fmt.Errorf("target API error: %s", consensus.Error)
		}
		return nil, fmt.Errorf("target API returned unsuccessful response")
	}
	if consensus.Data.TargetMean <= 0 {
		return nil, fmt.Errorf("no consensus target for symbol %s", symbol)
	}

	return candidateFromConsensus(consensus.Data), nil
}

// FetchTarget resolves a single holding's consensus target. Two-step when
// only the ISIN is known; soft-fails to nil on any error.
func (s *StructuredAPIService) FetchTarget(ctx context.Context, holding *models.Holding) *TargetCandidate {
	if !s.IsEnabled() {
		return nil
	}

	label := holding.SecurityName

	symbol := ""
	if holding.ISIN != "" {
		resolved, err := s.LookupSymbol(ctx, holding.ISIN)
		if err != nil {
			Trace().Append(s.Name(), label, false, "symbol lookup for %s failed: %v", holding.ISIN, err)
			metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "error").Inc()
			return nil
		}
		symbol = resolved
	} else if holding.NationalSecurityID != "" {
		// The API accepts national ids in the symbol slot
		symbol = holding.NationalSecurityID
	} else {
		Trace().Append(s.Name(), label, false, "no identifier available")
		return nil
	}

	candidate, err := s.GetConsensusTarget(ctx, symbol)
	if err != nil {
		Trace().Append(s.Name(), label, false, "consensus for %s failed: %v", symbol, err)
		metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "miss").Inc()
		return nil
	}

	Trace().Append(s.Name(), label, true, "consensus for %s: %.2f %s", symbol, candidate.Target, candidate.Currency)
	metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "hit").Inc()
	return candidate
}

// FetchBulk resolves targets for many holdings in one batched call, keyed by
// national security id. Used by the batch pass to minimize request count.
// Holdings without a national id are skipped; callers fall back to the
// per-holding chain for anything missing from the returned map.
func (s *StructuredAPIService) FetchBulk(ctx context.Context, holdings []*models.Holding) map[string]*TargetCandidate {
	if !s.IsEnabled() {
		return nil
	}

	var ids []string
	for _, h := range holdings {
		if h.NationalSecurityID != "" {
			ids = append(ids, h.NationalSecurityID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if !s.checkDailyLimit() {
		Trace().Append(s.Name(), "bulk", false, "daily rate limit exceeded")
		return nil
	}

	reqURL := fmt.Sprintf("%s/targets/bulk?ids=%s", s.baseURL, url.QueryEscape(strings.Join(ids, ",")))

	var bulk bulkTargetsResponse
	if err := s.doGet(ctx, reqURL, &bulk); err != nil {
		Trace().Append(s.Name(), "bulk", false, "bulk fetch for %d ids failed: %v", len(ids), err)
		metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "error").Inc()
		return nil
	}
	if !bulk.Success {
		Trace().Append(s.Name(), "bulk", false, "bulk fetch unsuccessful: %s", bulk.Error)
		return nil
	}

	results := make(map[string]*TargetCandidate, len(bulk.Data))
	for _, row := range bulk.Data {
		if row.SecurityID == "" || row.TargetMean <= 0 {
			continue
		}
		results[row.SecurityID] = candidateFromConsensus(row.consensusData)
	}

	Trace().Append(s.Name(), "bulk", true, "bulk fetch: %d of %d ids resolved", len(results), len(ids))
	return results
}

func candidateFromConsensus(data consensusData) *TargetCandidate {
	date := time.Now()
	if data.UpdatedAt != "" {
		if parsed, err := time.Parse("2006-01-02", data.UpdatedAt); err == nil {
			date = parsed
		}
	}

	currency := data.Currency
	if currency == "" {
		currency = "EUR"
	}

	return &TargetCandidate{
		Target:       data.TargetMean,
		Currency:     currency,
		High:         data.TargetHigh,
		Low:          data.TargetLow,
		AnalystCount: data.AnalystCount,
		SpreadPct:    data.SpreadPct,
		Date:         date,
		Source:       models.TargetSourceAPI,
	}
}
