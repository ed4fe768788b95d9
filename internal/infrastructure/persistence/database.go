package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database wraps the GORM handle shared by every repository
type Database struct {
	DB *gorm.DB
}

// NewDatabase opens the configured driver with the given GORM logger.
// A nil logger keeps GORM silent.
func NewDatabase(cfg *config.DatabaseConfig, gl gormlogger.Interface) (*Database, error) {
	if gl == nil {
		gl = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gl,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		PrepareStmt:            cfg.Driver != "sqlite",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d := &Database{DB: db}
	err = d.withPool(func(pool *sql.DB) error {
		configurePool(pool, cfg)
		return pool.Ping()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return d, nil
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath), nil
	case "", "postgres":
		return postgres.Open(cfg.DSN()), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func configurePool(pool *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.Driver == "sqlite" {
		// sqlite serializes writers
		pool.SetMaxOpenConns(1)
		return
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
}

func (d *Database) withPool(fn func(pool *sql.DB) error) error {
	pool, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return fn(pool)
}

// AutoMigrate creates or updates the sync engine tables
func (d *Database) AutoMigrate() error {
	return d.DB.AutoMigrate(models.AllModels()...)
}

// Close releases the connection pool
func (d *Database) Close() error {
	return d.withPool(func(pool *sql.DB) error { return pool.Close() })
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	return d.withPool(func(pool *sql.DB) error { return pool.Ping() })
}

// Stats returns the connection pool statistics
func (d *Database) Stats() (sql.DBStats, error) {
	var stats sql.DBStats
	err := d.withPool(func(pool *sql.DB) error {
		stats = pool.Stats()
		return nil
	})
	return stats, err
}
