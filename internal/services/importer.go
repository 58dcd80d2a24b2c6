package services

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/portfolio-tracker/backend/internal/metrics"
	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

// ImportService parses portfolio CSV exports and runs the import pipeline:
// reconcile against the stored holdings, persist the merged set, record the
// snapshot, and report which holdings need a resolution pass.
type ImportService struct {
	db        *gorm.DB
	reconcile *ReconcileService
}

// ErrInvalidImport marks failures caused by the uploaded export itself, as
// opposed to storage failures inside the pipeline.
var ErrInvalidImport = errors.New("invalid import")

// ImportResult summarizes one processed import
type ImportResult struct {
	ImportDate      time.Time `json:"import_date"`
	HoldingsTotal   int       `json:"holdings_total"`
	MigratedCount   int       `json:"migrated_count"`
	StaleImport     bool      `json:"stale_import"`
	NeedsResolution int       `json:"needs_resolution"`
}

// NewImportService creates a new import service
func NewImportService(db *gorm.DB, reconcile *ReconcileService) *ImportService {
	return &ImportService{db: db, reconcile: reconcile}
}

// column kinds recognized in export headers
type csvColumn int

const (
	colIgnore csvColumn = iota
	colAccount
	colName
	colNationalID
	colISIN
	colCurrency
	colQuantity
	colCostBasis
	colCurrentPrice
	colFxRate
	colMarketValueEUR
	colInstrumentType
	colTarget
)

// classifyColumn maps a header cell to a column kind. German bank exports
// and their English equivalents are both recognized. More specific markers
// are checked before generic ones ("kursziel" before "kurs").
func classifyColumn(header string) csvColumn {
	h := strings.ToLower(strings.TrimSpace(header))
	switch {
	case strings.Contains(h, "kursziel"), strings.Contains(h, "target"):
		return colTarget
	case strings.Contains(h, "devisenkurs"), strings.Contains(h, "fx"):
		return colFxRate
	case strings.Contains(h, "kaufkurs"), strings.Contains(h, "einstand"), strings.Contains(h, "cost"):
		return colCostBasis
	case strings.Contains(h, "kurs"), strings.Contains(h, "price"):
		return colCurrentPrice
	case strings.Contains(h, "konto"), strings.Contains(h, "depot"), strings.Contains(h, "account"):
		return colAccount
	case h == "wkn", strings.Contains(h, "wertpapierkenn"):
		return colNationalID
	case strings.Contains(h, "isin"):
		return colISIN
	case strings.Contains(h, "währung"), strings.Contains(h, "waehrung"), strings.Contains(h, "currency"):
		return colCurrency
	case strings.Contains(h, "stück"), strings.Contains(h, "stueck"), strings.Contains(h, "anzahl"), strings.Contains(h, "quantity"):
		return colQuantity
	case strings.Contains(h, "wert"), strings.Contains(h, "value"):
		return colMarketValueEUR
	case strings.Contains(h, "gattung"), strings.Contains(h, "typ"), strings.Contains(h, "type"), strings.Contains(h, "art"):
		return colInstrumentType
	case strings.Contains(h, "name"), strings.Contains(h, "bezeichnung"):
		return colName
	}
	return colIgnore
}

var importDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`), // 15.03.2024
	regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`),       // 2024-03-15
}

// detectImportDate scans the preamble lines of an export for an embedded
// snapshot date. Falls back to today.
func detectImportDate(preamble []string) time.Time {
	for _, line := range preamble {
		if m := importDatePatterns[0].FindStringSubmatch(line); m != nil {
			if t, err := time.Parse("2.1.2006", fmt.Sprintf("%s.%s.%s", m[1], m[2], m[3])); err == nil {
				return t
			}
		}
		if m := importDatePatterns[1].FindStringSubmatch(line); m != nil {
			if t, err := time.Parse("2006-01-02", m[0]); err == nil {
				return t
			}
		}
	}
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// ParsePortfolioCSV reads a bank export into holdings plus the embedded
// snapshot date. Preamble lines before the header row are scanned for the
// date; the header row is the first line mentioning an ISIN or WKN column.
func ParsePortfolioCSV(r io.Reader) ([]*models.Holding, time.Time, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var preamble []string
	var headerLine string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()
		if headerLine == "" {
			lower := strings.ToLower(line)
			if strings.Contains(lower, "isin") || strings.Contains(lower, "wkn") {
				headerLine = line
				continue
			}
			preamble = append(preamble, line)
			continue
		}
		if strings.TrimSpace(line) != "" {
			dataLines = append(dataLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read import: %w", err)
	}
	if headerLine == "" {
		return nil, time.Time{}, fmt.Errorf("no header row found in import")
	}

	delimiter := ';'
	if !strings.ContainsRune(headerLine, ';') && strings.ContainsRune(headerLine, ',') {
		delimiter = ','
	}

	parse := func(line string) ([]string, error) {
		reader := csv.NewReader(strings.NewReader(line))
		reader.Comma = delimiter
		return reader.Read()
	}

	headers, err := parse(headerLine)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse header row: %w", err)
	}
	columns := make([]csvColumn, len(headers))
	for i, h := range headers {
		columns[i] = classifyColumn(h)
	}

	importDate := detectImportDate(preamble)

	var holdings []*models.Holding
	for _, line := range dataLines {
		fields, err := parse(line)
		if err != nil {
			log.Printf("Import: skipping malformed row: %v", err)
			continue
		}

		h := &models.Holding{}
		for i, value := range fields {
			if i >= len(columns) {
				break
			}
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			switch columns[i] {
			case colAccount:
				h.AccountID = value
			case colName:
				h.SecurityName = value
			case colNationalID:
				h.NationalSecurityID = strings.ToUpper(value)
			case colISIN:
				h.ISIN = strings.ToUpper(value)
			case colCurrency:
				h.Currency = strings.ToUpper(value)
			case colInstrumentType:
				h.InstrumentType = value
			case colQuantity:
				if v, err := parseSnippetNumber(cleanAmount(value)); err == nil {
					h.Quantity = v
				}
			case colCostBasis:
				if v, err := parseSnippetNumber(cleanAmount(value)); err == nil {
					h.CostBasisPrice = &v
				}
			case colCurrentPrice:
				if v, err := parseSnippetNumber(cleanAmount(value)); err == nil {
					h.CurrentPrice = &v
				}
			case colFxRate:
				if v, err := parseSnippetNumber(cleanAmount(value)); err == nil {
					h.FxRate = &v
				}
			case colMarketValueEUR:
				if v, err := parseSnippetNumber(cleanAmount(value)); err == nil {
					h.MarketValueEUR = &v
				}
			case colTarget:
				if v, err := parseSnippetNumber(cleanAmount(value)); err == nil && v > 0 {
					h.Target = &v
					h.SourceTag = models.TargetSourceCSV
					h.TargetDate = &importDate
				}
			}
		}

		// Rows without any identifier are subtotals or blank padding
		if h.NationalSecurityID == "" && h.ISIN == "" {
			continue
		}
		h.WatchlistOnly = h.Quantity == 0
		holdings = append(holdings, h)
	}

	return holdings, importDate, nil
}

// cleanAmount strips currency markers before numeric parsing
func cleanAmount(value string) string {
	return strings.NewReplacer("€", "", "$", "", "EUR", "", "USD", "", " ", "", " ", "").Replace(value)
}

// ImportCSV runs the full import pipeline on one export
func (s *ImportService) ImportCSV(r io.Reader) (*ImportResult, error) {
	next, importDate, err := ParsePortfolioCSV(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if len(next) == 0 {
		return nil, fmt.Errorf("%w: export contained no holdings", ErrInvalidImport)
	}

	var previous []models.Holding
	if err := s.db.Find(&previous).Error; err != nil {
		return nil, fmt.Errorf("failed to load stored holdings: %w", err)
	}

	reconciled, err := s.reconcile.Reconcile(previous, next, importDate)
	if err != nil {
		return nil, err
	}

	totalPrevious := 0.0
	for i := range previous {
		if previous[i].MarketValueEUR != nil {
			totalPrevious += *previous[i].MarketValueEUR
		}
	}
	totalCurrent := TotalMarketValueEUR(reconciled.Merged)

	result := &ImportResult{
		ImportDate:    importDate,
		HoldingsTotal: len(next),
		MigratedCount: reconciled.MigratedCount,
		StaleImport:   reconciled.StaleImport,
	}

	if reconciled.StaleImport {
		// Historical value series only; stored holdings stay untouched
		staleTotal := 0.0
		for _, h := range next {
			if h.MarketValueEUR != nil {
				staleTotal += *h.MarketValueEUR
			}
		}
		if err := s.reconcile.RecordSnapshot(importDate, staleTotal, staleTotal, nil); err != nil {
			return nil, err
		}
		return result, nil
	}

	// Replace the stored holdings with the merged set in one transaction
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Holding{}).Error; err != nil {
			return fmt.Errorf("failed to clear holdings: %w", err)
		}
		for _, h := range reconciled.Merged {
			h.ID = 0
			if err := tx.Create(h).Error; err != nil {
				return fmt.Errorf("failed to store holding %s: %w", h.SecurityName, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.reconcile.RecordSnapshot(importDate, totalPrevious, totalCurrent, reconciled.Merged); err != nil {
		return nil, err
	}

	for _, h := range reconciled.Merged {
		if ShouldResolve(h, false) && !h.IsFundOrETF() {
			result.NeedsResolution++
		}
	}

	metrics.ImportsTotal.Inc()
	metrics.PortfolioValueEUR.Set(totalCurrent)
	metrics.HoldingsTracked.Set(float64(len(reconciled.Merged)))

	log.Printf("Import %s: %d holdings, %d manual targets migrated, %d need resolution",
		importDate.Format("2006-01-02"), len(reconciled.Merged), result.MigratedCount, result.NeedsResolution)

	return result, nil
}

// DeleteAllHoldings wipes the holding store after backing up manual targets
// to the side-store, so the next import can reattach them.
func (s *ImportService) DeleteAllHoldings(overrides *OverrideStore) error {
	var holdings []models.Holding
	if err := s.db.Find(&holdings).Error; err != nil {
		return fmt.Errorf("failed to load holdings: %w", err)
	}

	if err := overrides.Snapshot(holdings); err != nil {
		return err
	}

	if err := s.db.Where("1 = 1").Delete(&models.Holding{}).Error; err != nil {
		return fmt.Errorf("failed to delete holdings: %w", err)
	}

	log.Printf("Deleted %d holdings (manual targets backed up)", len(holdings))
	return nil
}
