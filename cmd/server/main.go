package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/codyseavey/portfolio-tracker/backend/internal/api"
	"github.com/codyseavey/portfolio-tracker/backend/internal/database"
	"github.com/codyseavey/portfolio-tracker/backend/internal/services"
)

func main() {
	// Database path
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./portfolio_tracker.db"
	}

	// Initialize database
	if err := database.Initialize(dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	// FX rates (daily EUR conversion table)
	fxService := services.NewFXRateService(os.Getenv("FX_RATES_URL"))

	// Structured target API (consensus analyst targets, daily quota)
	apiKey := os.Getenv("TARGET_API_KEY")
	apiDailyLimit := 250 // Default free tier limit
	if limitStr := os.Getenv("TARGET_API_DAILY_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			apiDailyLimit = limit
		}
	}
	apiService := services.NewStructuredAPIService(apiKey, os.Getenv("TARGET_API_URL"), apiDailyLimit)
	if apiService.IsEnabled() {
		log.Printf("Target API enabled (daily limit %d)", apiService.GetDailyLimit())
	} else {
		log.Println("Target API disabled: no TARGET_API_KEY set")
	}

	// Fallback sources
	llmService := services.NewLLMQueryService()
	scrapeService := services.NewHtmlScrapeService(os.Getenv("SCRAPE_BASE_URL"))
	snippetService := services.NewSearchSnippetService(os.Getenv("SEARCH_BASE_URL"))

	resolver := services.NewResolver(apiService, llmService, scrapeService, snippetService, fxService)

	// Portfolio services
	overrideStore := services.NewOverrideStore(db)
	reconcileService := services.NewReconcileService(db, overrideStore)
	importService := services.NewImportService(db, reconcileService)

	// Background resolution worker
	resolveWorker := services.NewResolveWorker(resolver, apiService, db, nil)

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fetch FX rates in the background so startup is not blocked on the network
	go func() {
		if err := fxService.FetchRates(ctx); err != nil {
			log.Printf("FX rate fetch failed, non-EUR targets stay unconverted: %v", err)
		}
	}()

	// Start resolve worker in background with panic recovery
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("PANIC in resolve worker: %v - restarting in 30 seconds", r)
					}
				}()
				resolveWorker.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				log.Println("Resolve worker restarting after panic recovery...")
			}
		}
	}()

	// Setup router
	router := api.SetupRouter(db, reconcileService, importService, overrideStore, resolveWorker)

	// Get port from environment
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cancel the context to stop the resolve worker
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
