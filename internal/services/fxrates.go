package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	fxDefaultBaseURL = "https://api.frankfurter.app"
	fxDefaultTimeout = 10 * time.Second
)

// FXRates holds the daily EUR conversion rates. Nil pointers mean the fetch
// has not completed (or failed) and amounts pass through unconverted.
type FXRates struct {
	USDToEUR *float64 `json:"usd_to_eur"`
	GBPToEUR *float64 `json:"gbp_to_eur"`
	AsOf     string   `json:"as_of"`
}

// FXRateService fetches EUR conversion rates once per process lifetime and
// serves them read-many afterwards. There is no invalidation; a restart is
// the only refresh.
type FXRateService struct {
	client  *http.Client
	baseURL string

	mu    sync.RWMutex
	rates *FXRates
}

type fxLatestResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// NewFXRateService creates a new FX rate service. baseURL may be empty.
func NewFXRateService(baseURL string) *FXRateService {
	if baseURL == "" {
		baseURL = fxDefaultBaseURL
	}
	return &FXRateService{
		client:  &http.Client{Timeout: fxDefaultTimeout},
		baseURL: baseURL,
	}
}

// FetchRates loads the daily rates. Called once at startup; errors leave the
// cache empty, which downgrades conversion to pass-through.
func (s *FXRateService) FetchRates(ctx context.Context) error {
	reqURL := fmt.Sprintf("%s/latest?base=EUR&symbols=USD,GBP", s.baseURL)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch FX rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("FX rate API returned status %d", resp.StatusCode)
	}

	var latest fxLatestResponse
	if err := json.NewDecoder(resp.Body).Decode(&latest); err != nil {
		return fmt.Errorf("failed to decode FX response: %w", err)
	}

	rates := &FXRates{AsOf: latest.Date}
	// The API quotes EUR->X; we store the inverse
	if usd, ok := latest.Rates["USD"]; ok && usd != 0 {
		inv := 1 / usd
		rates.USDToEUR = &inv
	}
	if gbp, ok := latest.Rates["GBP"]; ok && gbp != 0 {
		inv := 1 / gbp
		rates.GBPToEUR = &inv
	}

	s.mu.Lock()
	s.rates = rates
	s.mu.Unlock()

	log.Printf("FX rates loaded (as of %s): USD->EUR %v, GBP->EUR %v",
		latest.Date, deref(rates.USDToEUR), deref(rates.GBPToEUR))
	return nil
}

// SetRates injects rates directly. Used by tests and the import CLI.
func (s *FXRateService) SetRates(rates *FXRates) {
	s.mu.Lock()
	s.rates = rates
	s.mu.Unlock()
}

// Rates returns the cached rates, or nil while loading
func (s *FXRateService) Rates() *FXRates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rates
}

// ToEUR converts an amount from the given currency to EUR.
// Unknown currencies pass through unconverted: bank exports quote exotic
// listings in EUR terms already, so treating them as EUR is the intended
// fallback, not a missing case. A zero rate is treated as identity to avoid
// producing Inf/NaN from a broken rate feed.
func (s *FXRateService) ToEUR(amount float64, currency string) float64 {
	s.mu.RLock()
	rates := s.rates
	s.mu.RUnlock()

	if rates == nil {
		return amount
	}

	var rate *float64
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "USD", "$":
		rate = rates.USDToEUR
	case "GBP":
		rate = rates.GBPToEUR
	default:
		return amount
	}

	if rate == nil || *rate == 0 {
		return amount
	}
	return amount * *rate
}

func deref(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
