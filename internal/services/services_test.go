package services

import (
	"testing"
	"time"

	"swipestats-go/internal/config"
	"swipestats-go/internal/database"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Ingest: config.IngestConfig{
			MaxExportSize:        10 << 20,
			FetchTimeout:         5 * time.Second,
			MaxConcurrentIngests: 2,
			MatchBatchSize:       500,
			MessageBatchSize:     1000,
		},
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testReconcileService(t *testing.T) *ReconcileService {
	t.Helper()
	cfg := testConfig(t)
	log := zap.NewNop()
	writer := NewWriterService(cfg, log)
	metrics := NewMetricsService(cfg, log)
	return NewReconcileService(cfg, log, writer, metrics)
}
