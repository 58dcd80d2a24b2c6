package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/codyseavey/portfolio-tracker/backend/internal/metrics"
	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

const (
	scrapeDefaultBaseURL = "https://www.finanzen-portal.de/aktien"
	scrapeDefaultTimeout = 10 * time.Second
	scrapeUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// HtmlScrapeService extracts price targets from analyst pages. Page slugs are
// derived from the security name; the national security id is the fallback
// slug when the name yields nothing.
type HtmlScrapeService struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewHtmlScrapeService creates a new scrape client. Requests are limited to
// one per second to stay polite with the scraped site.
func NewHtmlScrapeService(baseURL string) *HtmlScrapeService {
	if baseURL == "" {
		baseURL = scrapeDefaultBaseURL
	}
	return &HtmlScrapeService{
		client:  &http.Client{Timeout: scrapeDefaultTimeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (s *HtmlScrapeService) Name() string {
	return "html_scrape"
}

// germanTransliterations maps characters that slug URLs spell out
var germanTransliterations = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
	"Ä", "ae", "Ö", "oe", "Ü", "ue",
	"é", "e", "è", "e", "ê", "e", "á", "a", "à", "a",
)

// Slugify converts a security name into a URL slug: transliterated,
// lowercased, non-alphanumerics collapsed to single dashes.
func Slugify(name string) string {
	s := germanTransliterations.Replace(name)
	s = strings.ToLower(s)

	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// CandidateSlugs returns the page slugs to try for a holding, in order:
// the full name slug, the name slug without trailing legal-form noise, and
// finally the national security id.
func CandidateSlugs(holding *models.Holding) []string {
	var slugs []string
	seen := make(map[string]bool)

	add := func(slug string) {
		if slug != "" && !seen[slug] {
			seen[slug] = true
			slugs = append(slugs, slug)
		}
	}

	full := Slugify(holding.SecurityName)
	add(full)

	// Exports often append legal forms ("ag", "se", "inc") and share class
	// noise that the slug pages omit
	trimmed := full
	for _, suffix := range []string{"-ag", "-se", "-inc", "-plc", "-sa", "-nv", "-co", "-corp", "-ltd"} {
		trimmed = strings.TrimSuffix(trimmed, suffix)
	}
	add(trimmed)

	add(strings.ToLower(holding.NationalSecurityID))

	return slugs
}

// ParseLocalizedNumber parses a German-formatted amount such as "1.234,56 €".
// Currency markers and spaces are stripped, thousand dots removed and the
// decimal comma swapped for a dot.
func ParseLocalizedNumber(text string) (float64, error) {
	stripped := strings.NewReplacer(
		"€", "", "EUR", "", "USD", "", "$", "",
		" ", "", " ", "",
	).Replace(text)
	normalized := strings.ReplaceAll(stripped, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")

	value, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("not a localized number: %q", text)
	}
	return value, nil
}

// FetchTarget scrapes the analyst target table for a holding. Candidate pages
// are tried in order, stopping at the first that yields a target.
func (s *HtmlScrapeService) FetchTarget(ctx context.Context, holding *models.Holding) *TargetCandidate {
	label := holding.SecurityName

	for _, slug := range CandidateSlugs(holding) {
		pageURL := fmt.Sprintf("%s/%s-kursziele", s.baseURL, slug)

		candidate, err := s.scrapePage(ctx, pageURL)
		if err != nil {
			Trace().Append(s.Name(), label, false, "%s: %v", pageURL, err)
			continue
		}
		if candidate == nil {
			Trace().Append(s.Name(), label, false, "%s: no target table", pageURL)
			continue
		}

		Trace().Append(s.Name(), label, true, "%s: target %.2f from %d rows", pageURL, candidate.Target, derefInt(candidate.AnalystCount))
		metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "hit").Inc()
		return candidate
	}

	metrics.SourceAttemptsTotal.WithLabelValues(s.Name(), "miss").Inc()
	return nil
}

// scrapePage fetches one candidate page and extracts the target table
func (s *HtmlScrapeService) scrapePage(ctx context.Context, pageURL string) (*TargetCandidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", scrapeUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse failed: %w", err)
	}

	return ExtractTargetFromDocument(doc), nil
}

// ExtractTargetFromDocument walks the document for a table whose header
// contains "kursziel" and aggregates that column: mean target, min/max as
// low/high, row count as analyst count. Returns nil if no such table exists.
func ExtractTargetFromDocument(doc *html.Node) *TargetCandidate {
	for _, table := range findNodes(doc, "table") {
		values := extractTargetColumn(table)
		if len(values) == 0 {
			continue
		}

		sum, low, high := 0.0, values[0], values[0]
		for _, v := range values {
			sum += v
			if v < low {
				low = v
			}
			if v > high {
				high = v
			}
		}
		count := len(values)
		mean := sum / float64(count)

		return &TargetCandidate{
			Target:       mean,
			Currency:     "EUR",
			High:         &high,
			Low:          &low,
			AnalystCount: &count,
			Date:         time.Now(),
			Source:       models.TargetSourceScrape,
		}
	}
	return nil
}

// extractTargetColumn locates the "kursziel" column of a table and parses the
// numeric values beneath it
func extractTargetColumn(table *html.Node) []float64 {
	rows := findNodes(table, "tr")
	if len(rows) < 2 {
		return nil
	}

	// Header row: first tr, cells may be th or td
	targetCol := -1
	for i, cell := range rowCells(rows[0]) {
		if strings.Contains(strings.ToLower(nodeText(cell)), "kursziel") {
			targetCol = i
			break
		}
	}
	if targetCol < 0 {
		return nil
	}

	var values []float64
	for _, row := range rows[1:] {
		cells := rowCells(row)
		if targetCol >= len(cells) {
			continue
		}
		value, err := ParseLocalizedNumber(strings.TrimSpace(nodeText(cells[targetCol])))
		if err != nil || value <= 0 {
			continue
		}
		values = append(values, value)
	}
	return values
}

// findNodes collects all descendant elements with the given tag
func findNodes(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
			if tag == "table" {
				return // no nested tables
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// rowCells returns the th/td children of a row, in order
func rowCells(row *html.Node) []*html.Node {
	var cells []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.Data == "td" || node.Data == "th") {
			cells = append(cells, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return cells
}

// nodeText concatenates all text content beneath a node
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
