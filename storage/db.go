package storage

import (
	"errors"
	"fmt"

	"citenet/config"
	"citenet/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrDestinationNotEmpty is returned when a bulk load targets a store that already holds data.
var ErrDestinationNotEmpty = errors.New("destination already holds data")

// OpenDB connects to the store configured in cfg.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}

	logMode := logger.Silent
	if cfg.DBEcho {
		logMode = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logMode),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}

	if cfg.DBDriver == config.DriverSQLite {
		// single writer: every statement, transactional or not, shares one connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// CreateSchema creates all tables and indexes of the citation graph.
func CreateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// DropSchema drops every table of the citation graph.
func DropSchema(db *gorm.DB) error {
	all := models.All()
	// reverse order so referencing tables go first
	for i := len(all) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(all[i]); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	return nil
}

// IsEmpty reports whether none of the graph tables holds a row.
// Missing tables count as empty.
func IsEmpty(db *gorm.DB) (bool, error) {
	for _, m := range models.All() {
		if !db.Migrator().HasTable(m) {
			continue
		}
		var count int64
		if err := db.Model(m).Limit(1).Count(&count).Error; err != nil {
			return false, fmt.Errorf("count rows: %w", err)
		}
		if count > 0 {
			return false, nil
		}
	}
	return true, nil
}

// PrepareDestination enforces the bulk-load precondition: the store must be empty,
// unless overwrite is set, in which case existing tables are dropped. The schema
// exists afterwards in both cases.
func PrepareDestination(db *gorm.DB, overwrite bool) error {
	empty, err := IsEmpty(db)
	if err != nil {
		return err
	}
	if !empty {
		if !overwrite {
			return ErrDestinationNotEmpty
		}
		if err := DropSchema(db); err != nil {
			return err
		}
	}
	return CreateSchema(db)
}

// SyncSequences moves serial sequences past explicitly inserted ids.
// SQLite derives the next rowid from the table itself, so only Postgres needs it.
func SyncSequences(db *gorm.DB) error {
	if db.Dialector.Name() != config.DriverPostgres {
		return nil
	}
	for _, table := range []string{"journals", "articles"} {
		stmt := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)", table)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("sync sequence %s: %w", table, err)
		}
	}
	return nil
}
