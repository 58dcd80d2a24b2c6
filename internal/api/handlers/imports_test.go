package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codyseavey/portfolio-tracker/backend/internal/services"
)

// importRouter wires an import handler over a bare in-memory database. The
// schema is deliberately not migrated, so any storage call fails.
func importRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	overrides := services.NewOverrideStore(db)
	reconcile := services.NewReconcileService(db, overrides)
	importer := services.NewImportService(db, reconcile)
	handler := NewImportHandler(importer, reconcile)

	router := gin.New()
	router.POST("/api/imports", handler.ImportCSV)
	return router
}

func TestImportCSVRejectsMalformedExport(t *testing.T) {
	router := importRouter(t)

	req := httptest.NewRequest("POST", "/api/imports", strings.NewReader("no header here\njust prose\n"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed export should map to 400, got %d", w.Code)
	}
}

func TestImportCSVReportsStorageFailure(t *testing.T) {
	router := importRouter(t)

	body := "Stand: 15.03.2024\n" +
		"Depot;Bezeichnung;WKN;ISIN;Stück\n" +
		"A;Siemens AG;723610;DE0007236101;10\n"
	req := httptest.NewRequest("POST", "/api/imports", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("storage failure should map to 500, got %d", w.Code)
	}
}
