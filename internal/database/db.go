package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"swipestats-go/internal/config"
	"swipestats-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Initialize initializes the database connection and runs migrations
func Initialize(cfg *config.Config, log *zap.Logger) error {
	// Ensure database directory exists
	dbDir := filepath.Dir(cfg.Database.Path)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database connection
	var err error
	DB, err = gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // We'll use zap for logging
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying SQLite connection to configure
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Enable WAL mode for better concurrency
	if err := DB.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign key constraints
	if err := DB.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Run migrations
	if err := Migrate(DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database initialized successfully", zap.String("path", cfg.Database.Path))
	return nil
}

// Migrate runs schema migrations on the given connection. Exposed separately
// so tests can migrate an in-memory database.
func Migrate(db *gorm.DB) error {
	entities := []interface{}{
		&models.Profile{},
		&models.UsageRecord{},
		&models.Match{},
		&models.Message{},
		&models.IdentityEvent{},
		&models.ProfilePrompt{},
		&models.ProfilePhoto{},
		&models.MetaSnapshot{},
		&models.OriginalFileReference{},
	}

	for _, entity := range entities {
		if err := db.AutoMigrate(entity); err != nil {
			return fmt.Errorf("failed to migrate model %T: %w", entity, err)
		}
	}

	// Create composite indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createIndexes creates composite indexes that GORM doesn't create automatically
func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Message composite index for chronological reads per match
		"CREATE INDEX IF NOT EXISTS idx_messages_match_index ON messages(match_id, message_index)",

		// IdentityEvent lookups per profile and type
		"CREATE INDEX IF NOT EXISTS idx_events_profile_type ON identity_events(profile_id, event_type)",

		// Match reads ordered by first message date
		"CREATE INDEX IF NOT EXISTS idx_matches_profile_first_message ON matches(profile_id, first_message_at)",
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// OpenInMemory opens a migrated in-memory SQLite database for tests.
func OpenInMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// A single connection keeps every session on the same in-memory database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// RetryWithBackoff retries a database operation with exponential backoff
func RetryWithBackoff(maxRetries int, initialDelay time.Duration, fn func() error) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Check if it's a database locked error
		if isDatabaseLocked(err) {
			if i < maxRetries-1 {
				time.Sleep(delay)
				delay *= 2 // Exponential backoff
				continue
			}
		}

		// If it's not a locked error or we've exhausted retries, return the error
		return err
	}

	return err
}

// isDatabaseLocked checks if the error is a database locked error
func isDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "database locked")
}
