package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/codyseavey/portfolio-tracker/backend/internal/metrics"
	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

const (
	llmModel   = "gemini-2.0-flash"
	llmAPIURL  = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
	llmTimeout = 30 * time.Second
)

// LLMQueryService asks a language model for the average analyst price target
// of a security. The reply is parsed for a single leading number, with guards
// against the model echoing the security identifier back as the answer.
type LLMQueryService struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	enabled    bool
}

type llmRequest struct {
	Contents         []llmContent `json:"contents"`
	GenerationConfig llmGenConfig `json:"generationConfig"`
}

type llmContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []llmPart `json:"parts"`
}

type llmPart struct {
	Text string `json:"text"`
}

type llmGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type llmAPIResponse struct {
	Candidates []struct {
		Content struct {
			Parts []llmPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewLLMQueryService creates a new LLM query service. The key is read from
// GOOGLE_API_KEY (or a file via GOOGLE_API_KEY_FILE); without one the client
// is disabled and the resolver skips it.
func NewLLMQueryService() *LLMQueryService {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		if keyPath := os.Getenv("GOOGLE_API_KEY_FILE"); keyPath != "" {
			if data, err := os.ReadFile(keyPath); err == nil {
				apiKey = strings.TrimSpace(string(data))
			}
		}
	}

	svc := &LLMQueryService{
		apiKey:     apiKey,
		apiURL:     fmt.Sprintf(llmAPIURL, llmModel),
		httpClient: &http.Client{Timeout: llmTimeout},
		enabled:    apiKey != "",
	}

	if svc.enabled {
		log.Printf("LLM query service: enabled (model=%s)", llmModel)
	} else {
		log.Printf("LLM query service: disabled (no GOOGLE_API_KEY)")
	}

	return svc
}

// IsEnabled returns whether the LLM client is available
func (s *LLMQueryService) IsEnabled() bool {
	return s.enabled
}

func (s *LLMQueryService) Name() string {
	return "llm_query"
}

// buildPrompt prefers the strongest identifier available: ISIN over national
// id over free-text name
func buildPrompt(holding *models.Holding) string {
	identifier := ""
	switch {
	case holding.ISIN != "":
		identifier = "ISIN " + holding.ISIN
	case holding.NationalSecurityID != "":
		identifier = "security id " + holding.NationalSecurityID
	default:
		identifier = holding.SecurityName
	}

	return fmt.Sprintf(
		"What is the current average analyst price target for the security with %s? "+
			"Answer with a single number only, no currency symbol, no explanation. "+
			"If you do not know, answer 0.", identifier)
}

var leadingNumberPattern = regexp.MustCompile(`-?[0-9]+(?:[.,][0-9]+)*`)

// ParseLLMTarget extracts a single numeric price target from a model reply.
// Rejects values that look like the ISIN's own digits echoed back: a parsed
// value whose integer form is a substring of the ISIN, or a value that is
// at least one million and integral, is an identifier, not a price.
func ParseLLMTarget(reply, isin string) (float64, error) {
	match := leadingNumberPattern.FindString(strings.TrimSpace(reply))
	if match == "" {
		return 0, fmt.Errorf("no number in reply %q", reply)
	}

	// The model answers in German or US convention depending on the prompt
	// language; parseSnippetNumber handles both
	value, err := parseSnippetNumber(match)
	if err != nil {
		return 0, fmt.Errorf("unparseable number %q: %w", match, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("no target known (reply %q)", reply)
	}

	isIntegral := value == float64(int64(value))
	if isIntegral {
		asInt := strconv.FormatInt(int64(value), 10)
		if isin != "" && strings.Contains(isin, asInt) {
			return 0, fmt.Errorf("value %s echoes the ISIN %s", asInt, isin)
		}
		if value >= 1_000_000 {
			return 0, fmt.Errorf("value %.0f looks like an identifier, not a price", value)
		}
	}

	return value, nil
}

// FetchTarget queries the model for a holding's target. Soft-fails to nil.
func (s *LLMQueryService) FetchTarget(ctx context.Context, holding *models.Holding) *TargetCandidate {
	if !s.enabled {
		return nil
	}

	label := holding.SecurityName
	prompt := buildPrompt(holding)

	reply, err := s.complete(ctx, prompt)
	if err != nil {
		Trace().Append(s.Name(), label, false, "prompt %q failed: %v", prompt, err)
		metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "error").Inc()
		return nil
	}

	value, err := ParseLLMTarget(reply, holding.ISIN)
	if err != nil {
		Trace().Append(s.Name(), label, false, "reply rejected: %v", err)
		metrics.LLMErrorsTotal.WithLabelValues("identifier_echo").Inc()
		metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "rejected").Inc()
		return nil
	}

	Trace().Append(s.Name(), label, true, "model answered %.2f for prompt %q", value, prompt)
	metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "hit").Inc()

	// The model is not asked for a currency; targets are assumed to be
	// quoted in the holding's own trading currency
	currency := holding.Currency
	if currency == "" {
		currency = "EUR"
	}

	return &TargetCandidate{
		Target:   value,
		Currency: currency,
		Date:     time.Now(),
		Source:   models.TargetSourceLLM,
	}
}

func (s *LLMQueryService) complete(ctx context.Context, prompt string) (string, error) {
	req := llmRequest{
		Contents: []llmContent{{
			Parts: []llmPart{{Text: prompt}},
		}},
		GenerationConfig: llmGenConfig{
			Temperature:     0.1,
			MaxOutputTokens: 64,
		},
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	metrics.LLMRequestsTotal.Inc()
	start := time.Now()

	url := s.apiURL + "?key=" + s.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		metrics.LLMErrorsTotal.WithLabelValues("network").Inc()
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.LLMAPILatency.Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.LLMErrorsTotal.WithLabelValues("read").Inc()
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.LLMErrorsTotal.WithLabelValues("api").Inc()
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp llmAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		metrics.LLMErrorsTotal.WithLabelValues("parse").Inc()
		return "", fmt.Errorf("failed to parse API response: %w", err)
	}

	if apiResp.Error != nil {
		metrics.LLMErrorsTotal.WithLabelValues("api").Inc()
		return "", fmt.Errorf("API error %d: %s", apiResp.Error.Code, apiResp.Error.Message)
	}

	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	return apiResp.Candidates[0].Content.Parts[0].Text, nil
}

// SetAPIKey overrides the key (used by tests with httptest servers)
func (s *LLMQueryService) SetAPIKey(key string) {
	s.apiKey = key
	s.enabled = key != ""
}

// SetAPIURL redirects requests to a different endpoint (used by tests)
func (s *LLMQueryService) SetAPIURL(url string) {
	s.apiURL = url
}
