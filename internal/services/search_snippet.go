package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/codyseavey/portfolio-tracker/backend/internal/metrics"
	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

const (
	searchDefaultBaseURL = "https://searx.be"
	searchDefaultTimeout = 10 * time.Second
)

// SearchSnippetService is the last-resort source: it issues a generic web
// search for "{name or id} price target" and scans the returned snippets for
// the first currency-tagged amount. The resolver only consults it for
// fund/ETF-type instruments, where no structured source exists.
type SearchSnippetService struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// NewSearchSnippetService creates a new snippet search client
func NewSearchSnippetService(baseURL string) *SearchSnippetService {
	if baseURL == "" {
		baseURL = searchDefaultBaseURL
	}
	return &SearchSnippetService{
		client:  &http.Client{Timeout: searchDefaultTimeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (s *SearchSnippetService) Name() string {
	return "search_snippet"
}

// snippetAmountPattern matches an amount with a currency marker on either
// side: "€ 42,50", "42.50 USD", "$183", "97,20 EUR"
var snippetAmountPattern = regexp.MustCompile(
	`(€|\$|EUR|USD)\s*([0-9][0-9.,]*[0-9]|[0-9])|([0-9][0-9.,]*[0-9]|[0-9])\s*(€|\$|EUR|USD)`)

// ExtractSnippetAmount returns the first currency-tagged amount in a snippet,
// with its currency code. ok is false when no tagged amount is present.
func ExtractSnippetAmount(snippet string) (amount float64, currency string, ok bool) {
	match := snippetAmountPattern.FindStringSubmatch(snippet)
	if match == nil {
		return 0, "", false
	}

	marker, number := match[1], match[2]
	if marker == "" {
		marker, number = match[4], match[3]
	}

	value, err := parseSnippetNumber(number)
	if err != nil || value <= 0 {
		return 0, "", false
	}

	switch marker {
	case "$", "USD":
		currency = "USD"
	default:
		currency = "EUR"
	}
	return value, currency, true
}

// parseSnippetNumber handles both decimal conventions that show up in search
// snippets: "1,234.56" and "1.234,56". The last separator wins as the
// decimal mark.
func parseSnippetNumber(text string) (float64, error) {
	lastComma := strings.LastIndex(text, ",")
	lastDot := strings.LastIndex(text, ".")

	switch {
	case lastComma > lastDot:
		// German convention: dots are thousand separators
		text = strings.ReplaceAll(text, ".", "")
		text = strings.ReplaceAll(text, ",", ".")
	default:
		// US convention (or no separators): commas are thousand separators
		text = strings.ReplaceAll(text, ",", "")
	}

	return strconv.ParseFloat(text, 64)
}

// FetchTarget searches for a price target mention and soft-fails to nil
func (s *SearchSnippetService) FetchTarget(ctx context.Context, holding *models.Holding) *TargetCandidate {
	label := holding.SecurityName

	identifier := holding.SecurityName
	if identifier == "" {
		identifier = holding.NationalSecurityID
	}
	if identifier == "" {
		return nil
	}

	query := fmt.Sprintf("%s price target", identifier)

	results, err := s.search(ctx, query)
	if err != nil {
		Trace().Append(s.Name(), label, false, "search %q failed: %v", query, err)
		metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "error").Inc()
		return nil
	}

	for _, result := range results {
		snippet := result.Title + " " + result.Content
		amount, currency, ok := ExtractSnippetAmount(snippet)
		if !ok {
			continue
		}

		Trace().Append(s.Name(), label, true, "search %q: %.2f %s from %s", query, amount, currency, result.URL)
		metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "hit").Inc()
		return &TargetCandidate{
			Target:   amount,
			Currency: currency,
			Date:     time.Now(),
			Source:   models.TargetSourceSnippet,
		}
	}

	Trace().Append(s.Name(), label, false, "search %q: no tagged amount in %d results", query, len(results))
	metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "miss").Inc()
	return nil
}

func (s *SearchSnippetService) search(ctx context.Context, query string) ([]searchResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	reqURL := fmt.Sprintf("%s/search?%s", s.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var search searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&search); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return search.Results, nil
}
