package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"pictor/pkg/logger"
)

// Open connects to the SQLite file at path with WAL tuning, limits the pool
// to a single writer and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	if err := ensureDir(path); err != nil {
		return nil, fmt.Errorf("failed to ensure database directory: %w", err)
	}

	// WAL mode enables concurrent readers and a single writer without locking the entire file.
	// busy_timeout ensures the driver waits for the lock instead of failing immediately.
	dsn := fmt.Sprintf(
		"%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=-20000",
		path,
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := configurePool(db); err != nil {
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	logger.LogInfo("Database initialized at %s", path)
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0750)
	}
	return nil
}

func configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve generic database interface: %w", err)
	}

	// Limit concurrency to prevent disk I/O throttling on the single SQLite file.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	return nil
}

func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&Derivative{}, &TempUpload{}); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_derivatives_updated_at ON derivatives(updated_at DESC);",
	}
	for _, idx := range indices {
		if err := db.Exec(idx).Error; err != nil {
			logger.LogWarn("Failed to create index: %v", err)
		}
	}
	return nil
}
