package services

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Siemens AG", "siemens-ag"},
		{"Münchener Rück", "muenchener-rueck"},
		{"Société Générale", "societe-generale"},
		{"Thyssenkrupp", "thyssenkrupp"},
		{"Porsche Automobil Holding SE", "porsche-automobil-holding-se"},
		{"L'Oréal S.A.", "l-oreal-s-a"},
		{"  BASF  ", "basf"},
		{"Straßenbau & Co.", "strassenbau-co"},
	}

	for _, tt := range tests {
		if got := Slugify(tt.input); got != tt.expected {
			t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestCandidateSlugs(t *testing.T) {
	h := &models.Holding{SecurityName: "Siemens AG", NationalSecurityID: "723610"}
	slugs := CandidateSlugs(h)

	want := []string{"siemens-ag", "siemens", "723610"}
	if len(slugs) != len(want) {
		t.Fatalf("expected %d slugs, got %v", len(want), slugs)
	}
	for i, s := range want {
		if slugs[i] != s {
			t.Errorf("slug %d: got %q, want %q", i, slugs[i], s)
		}
	}

	// No legal-form suffix: full slug and trimmed slug collapse into one
	h = &models.Holding{SecurityName: "Adidas", NationalSecurityID: "A1EWWW"}
	slugs = CandidateSlugs(h)
	if len(slugs) != 2 || slugs[0] != "adidas" || slugs[1] != "a1ewww" {
		t.Errorf("expected deduplicated slugs, got %v", slugs)
	}
}

func TestParseLocalizedNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		wantErr  bool
	}{
		{"1.234,56 €", 1234.56, false},
		{"97,20", 97.2, false},
		{"150 EUR", 150, false},
		{"12.500,00", 12500, false},
		{"$ 42,50", 42.5, false},
		{"kein Wert", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLocalizedNumber(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLocalizedNumber(%q) expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLocalizedNumber(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseLocalizedNumber(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

const targetTablePage = `
<html><body>
<h2>Analysten</h2>
<table>
  <tr><th>Datum</th><th>Analyst</th><th>Kursziel</th><th>Rating</th></tr>
  <tr><td>01.03.2024</td><td>Bank A</td><td>180,00 €</td><td>Buy</td></tr>
  <tr><td>15.02.2024</td><td>Bank B</td><td>150,00 €</td><td>Hold</td></tr>
  <tr><td>02.02.2024</td><td>Bank C</td><td>210,00 €</td><td>Buy</td></tr>
</table>
</body></html>`

func TestExtractTargetFromDocument(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(targetTablePage))
	if err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}

	candidate := ExtractTargetFromDocument(doc)
	if candidate == nil {
		t.Fatal("expected a candidate from the target table")
	}

	if candidate.Target != 180 {
		t.Errorf("expected mean target 180, got %v", candidate.Target)
	}
	if candidate.Low == nil || *candidate.Low != 150 {
		t.Errorf("expected low 150, got %v", candidate.Low)
	}
	if candidate.High == nil || *candidate.High != 210 {
		t.Errorf("expected high 210, got %v", candidate.High)
	}
	if candidate.AnalystCount == nil || *candidate.AnalystCount != 3 {
		t.Errorf("expected 3 analysts, got %v", candidate.AnalystCount)
	}
	if candidate.Source != models.TargetSourceScrape {
		t.Errorf("expected scrape source tag, got %q", candidate.Source)
	}
}

func TestExtractTargetFromDocumentNoTable(t *testing.T) {
	pages := []string{
		`<html><body><p>Keine Analysten gefunden</p></body></html>`,
		// Table without a Kursziel header column
		`<html><body><table><tr><th>Datum</th><th>Kurs</th></tr><tr><td>01.03.2024</td><td>99,00</td></tr></table></body></html>`,
		// Header only, no data rows
		`<html><body><table><tr><th>Kursziel</th></tr></table></body></html>`,
	}

	for i, page := range pages {
		doc, err := html.Parse(strings.NewReader(page))
		if err != nil {
			t.Fatalf("page %d: parse failed: %v", i, err)
		}
		if got := ExtractTargetFromDocument(doc); got != nil {
			t.Errorf("page %d: expected nil, got target %v", i, got.Target)
		}
	}
}

func TestExtractTargetSkipsUnparseableRows(t *testing.T) {
	page := `<html><body><table>
	<tr><th>Analyst</th><th>Kursziel</th></tr>
	<tr><td>Bank A</td><td>100,00 €</td></tr>
	<tr><td>Bank B</td><td>-</td></tr>
	<tr><td>Bank C</td><td>200,00 €</td></tr>
	</table></body></html>`

	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	candidate := ExtractTargetFromDocument(doc)
	if candidate == nil {
		t.Fatal("expected a candidate despite one bad row")
	}
	if candidate.Target != 150 {
		t.Errorf("expected mean 150 over the two parseable rows, got %v", candidate.Target)
	}
	if candidate.AnalystCount == nil || *candidate.AnalystCount != 2 {
		t.Errorf("expected 2 analysts, got %v", candidate.AnalystCount)
	}
}
