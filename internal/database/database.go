package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sisques-labs/project-starter-sub009/config"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

// Databases bundles the write store (events, aggregates, sagas) and the read
// store (view models). Both may point at the same database.
type Databases struct {
	Write *gorm.DB
	Read  *gorm.DB
}

// Connect opens the write and read databases
func Connect(cfg config.DatabaseConfig) (*Databases, error) {
	write, err := Open(cfg, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to write database: %w", err)
	}

	readDSN := cfg.ReadDSN
	if readDSN == "" || readDSN == cfg.DSN {
		return &Databases{Write: write, Read: write}, nil
	}

	read, err := Open(cfg, readDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to read database: %w", err)
	}

	return &Databases{Write: write, Read: read}, nil
}

// Open establishes a connection for dsn using the configured driver
func Open(cfg config.DatabaseConfig, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logLevel(cfg.LogLevel)),
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// AutoMigrate creates or updates the write and read schemas
func (d *Databases) AutoMigrate() error {
	if err := d.Write.AutoMigrate(models.WriteModels()...); err != nil {
		return fmt.Errorf("failed to migrate write models: %w", err)
	}
	if err := d.Read.AutoMigrate(models.ReadModels()...); err != nil {
		return fmt.Errorf("failed to migrate read models: %w", err)
	}
	log.Info().Msg("Database migrations completed")
	return nil
}

// Close closes both connections
func (d *Databases) Close() error {
	if err := closeDB(d.Write); err != nil {
		return err
	}
	if d.Read != d.Write {
		return closeDB(d.Read)
	}
	return nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info", "debug":
		return logger.Info
	default:
		return logger.Warn
	}
}
