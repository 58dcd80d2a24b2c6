// import loads a broker portfolio CSV export into the tracker database and
// optionally runs an attended resolution pass afterwards.
//
// Usage: go run main.go -db=<path> -file=<csv> [-dry-run] [-execute] [-resolve]
//
// The tool:
// 1. Parses the export (German or English headers, ; or , delimited)
// 2. Reconciles it against the stored portfolio, carrying targets forward
// 3. With -resolve, walks every eligible holding through the source chain,
//    prompting before any unrealistic value is swapped for an LLM replacement
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/codyseavey/portfolio-tracker/backend/internal/database"
	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
	"github.com/codyseavey/portfolio-tracker/backend/internal/services"
)

func main() {
	dbPath := flag.String("db", "", "Path to SQLite database (required)")
	csvPath := flag.String("file", "", "Path to portfolio CSV export (required)")
	dryRun := flag.Bool("dry-run", false, "Parse and report without modifying the database")
	execute := flag.Bool("execute", false, "Execute the import (required to make changes)")
	resolve := flag.Bool("resolve", false, "Run an interactive resolution pass after importing")
	force := flag.Bool("force", false, "Resolve even manually overridden and CSV-sourced targets")
	flag.Parse()

	if *dbPath == "" || *csvPath == "" {
		fmt.Println("Usage: import -db=<path> -file=<csv> [options]")
		fmt.Println("")
		fmt.Println("Imports a broker portfolio CSV export, reconciling it against the")
		fmt.Println("stored portfolio so existing price targets carry forward.")
		fmt.Println("")
		fmt.Println("Options:")
		fmt.Println("  -db       Path to SQLite database (required)")
		fmt.Println("  -file     Path to portfolio CSV export (required)")
		fmt.Println("  -dry-run  Parse and report without modifying the database")
		fmt.Println("  -execute  Execute the import (required to make changes)")
		fmt.Println("  -resolve  Run an interactive resolution pass after importing")
		fmt.Println("  -force    Resolve even manually overridden and CSV-sourced targets")
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Println("  # Preview what would be imported")
		fmt.Println("  import -db=./portfolio_tracker.db -file=./depot.csv -dry-run")
		fmt.Println("")
		fmt.Println("  # Import and resolve targets with interactive prompts")
		fmt.Println("  import -db=./portfolio_tracker.db -file=./depot.csv -execute -resolve")
		os.Exit(1)
	}

	if !*dryRun && !*execute {
		fmt.Println("Error: Must specify either -dry-run or -execute")
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("Failed to open CSV: %v", err)
	}
	defer f.Close()

	if *dryRun {
		holdings, importDate, err := services.ParsePortfolioCSV(f)
		if err != nil {
			log.Fatalf("Failed to parse CSV: %v", err)
		}
		fmt.Printf("Parsed %d holdings, import date %s\n", len(holdings), importDate.Format("2006-01-02"))
		for _, h := range holdings {
			target := "-"
			if h.Target != nil {
				target = fmt.Sprintf("%.2f", *h.Target)
			}
			fmt.Printf("  %-12s %-8s %-40s target %s\n", h.ISIN, h.NationalSecurityID, h.SecurityName, target)
		}
		return
	}

	if err := database.Initialize(*dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	overrideStore := services.NewOverrideStore(db)
	reconcileService := services.NewReconcileService(db, overrideStore)
	importService := services.NewImportService(db, reconcileService)

	result, err := importService.ImportCSV(f)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	fmt.Printf("Imported %d holdings dated %s\n", result.HoldingsTotal, result.ImportDate.Format("2006-01-02"))
	fmt.Printf("  Targets carried forward: %d\n", result.MigratedCount)
	fmt.Printf("  Needing resolution:      %d\n", result.NeedsResolution)
	if result.StaleImport {
		fmt.Println("  Import is older than the stored portfolio; only the value history was updated")
		return
	}

	if !*resolve {
		return
	}

	runInteractiveResolve(db, *force)
}

// runInteractiveResolve resolves every eligible holding, deferring
// unrealistic-replacement decisions to the terminal.
func runInteractiveResolve(db *gorm.DB, force bool) {
	ctx := context.Background()

	fxService := services.NewFXRateService(os.Getenv("FX_RATES_URL"))
	if err := fxService.FetchRates(ctx); err != nil {
		log.Printf("FX rate fetch failed, non-EUR targets stay unconverted: %v", err)
	}

	apiService := services.NewStructuredAPIService(os.Getenv("TARGET_API_KEY"), os.Getenv("TARGET_API_URL"), 250)
	resolver := services.NewResolver(
		apiService,
		services.NewLLMQueryService(),
		services.NewHtmlScrapeService(os.Getenv("SCRAPE_BASE_URL")),
		services.NewSearchSnippetService(os.Getenv("SEARCH_BASE_URL")),
		fxService,
	)

	var holdings []models.Holding
	if err := db.Order("id ASC").Find(&holdings).Error; err != nil {
		log.Fatalf("Failed to load holdings: %v", err)
	}

	var eligible []*models.Holding
	for i := range holdings {
		h := &holdings[i]
		if !services.ShouldResolve(h, force) || h.IsFundOrETF() {
			continue
		}
		eligible = append(eligible, h)
	}

	if len(eligible) == 0 {
		fmt.Println("No holdings need resolution")
		return
	}
	fmt.Printf("Resolving %d holdings...\n", len(eligible))

	var bulk map[string]*services.TargetCandidate
	if apiService.IsEnabled() {
		bulk = apiService.FetchBulk(ctx, eligible)
	}

	reader := bufio.NewReader(os.Stdin)
	opts := services.ResolveOptions{
		ForceOverwrite: force,
		Arbitration: services.InteractiveArbitration(func(original, replacement float64) bool {
			fmt.Printf("\nTarget %.2f failed the realism check; replacement candidate is %.2f.\n", original, replacement)
			fmt.Print("Accept replacement? [y/N]: ")
			answer, _ := reader.ReadString('\n')
			return strings.EqualFold(strings.TrimSpace(answer), "y")
		}),
	}

	resolved := 0
	for _, h := range eligible {
		if !resolver.Resolve(ctx, h, bulk[h.NationalSecurityID], opts) {
			continue
		}
		if err := db.Save(h).Error; err != nil {
			log.Printf("Failed to save holding %s: %v", h.SecurityName, err)
			continue
		}
		if h.HasTarget() {
			resolved++
			fmt.Printf("  %-40s -> %.2f EUR (%s)\n", h.SecurityName, *h.Target, h.SourceTag)
		} else {
			fmt.Printf("  %-40s -> cleared\n", h.SecurityName)
		}
	}
	fmt.Printf("Done, %d targets resolved\n", resolved)
}
