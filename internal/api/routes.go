package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/codyseavey/portfolio-tracker/backend/internal/api/handlers"
	"github.com/codyseavey/portfolio-tracker/backend/internal/metrics"
	"github.com/codyseavey/portfolio-tracker/backend/internal/services"
)

func SetupRouter(db *gorm.DB, reconcileService *services.ReconcileService, importService *services.ImportService, overrideStore *services.OverrideStore, resolveWorker *services.ResolveWorker) *gin.Engine {
	router := gin.Default()

	// Get frontend dist path from env
	frontendPath := os.Getenv("FRONTEND_DIST_PATH")
	serveFrontend := frontendPath != "" && dirExists(frontendPath)

	// CORS configuration - allow origins from environment or use defaults
	config := cors.DefaultConfig()
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.AllowOrigins = strings.Split(corsOrigins, ",")
	} else {
		config.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	config.AllowCredentials = false // Explicitly set
	router.Use(cors.New(config))
	router.Use(metricsMiddleware())

	// Initialize handlers
	holdingHandler := handlers.NewHoldingHandler(db, reconcileService, importService, overrideStore)
	importHandler := handlers.NewImportHandler(importService, reconcileService)
	resolveHandler := handlers.NewResolveHandler(resolveWorker)

	// API routes
	api := router.Group("/api")
	{
		// Holding routes
		holdings := api.Group("/holdings")
		{
			holdings.GET("", holdingHandler.GetHoldings)
			holdings.DELETE("", holdingHandler.DeleteAll)
			holdings.GET("/:id", holdingHandler.GetHolding)
			holdings.PUT("/:id/target", holdingHandler.UpdateTarget)
			holdings.DELETE("/:id/target", holdingHandler.ClearTarget)
			holdings.GET("/:id/history", holdingHandler.GetPositionHistory)
			holdings.POST("/:id/refresh-target", resolveHandler.RefreshHolding)
		}

		// Import routes
		imports := api.Group("/imports")
		{
			imports.POST("", importHandler.ImportCSV)
			imports.GET("", importHandler.GetHistory)
		}

		// Resolution routes
		resolve := api.Group("/resolve")
		{
			resolve.POST("", resolveHandler.RunBatch)
			resolve.GET("/status", resolveHandler.GetStatus)
		}

		api.GET("/trace", resolveHandler.GetTrace)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Serve frontend static files
	if serveFrontend {
		indexPath := filepath.Join(frontendPath, "index.html")

		// Serve static assets
		router.Static("/assets", filepath.Join(frontendPath, "assets"))

		// Serve other static files (favicon, etc.)
		router.StaticFile("/vite.svg", filepath.Join(frontendPath, "vite.svg"))

		// Serve root index.html
		router.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})

		// SPA fallback - serve index.html for all non-API routes
		router.NoRoute(func(c *gin.Context) {
			path := c.Request.URL.Path

			// Don't serve index.html for API routes
			if strings.HasPrefix(path, "/api") {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}

			// Serve index.html for SPA routing
			c.File(indexPath)
		})
	}

	return router
}

// metricsMiddleware records per-route request counts and latency.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
