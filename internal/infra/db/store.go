package db

import (
	"fmt"
	"strings"

	"sealreg/internal/config"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqliteScheme = "sqlite://"

type Store struct {
	DB *gorm.DB
}

// NewStore opens the configured database. An empty DATABASE_URL starts the
// service in no-db mode where every repository reports errDBUnavailable.
func NewStore(cfg config.Config, log logrus.FieldLogger) (*Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; starting in no-db mode")
		return &Store{DB: nil}, nil
	}

	gdb, err := Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := Migrate(gdb); err != nil {
			return nil, err
		}
		log.Info("database schema migrated")
	}
	return &Store{DB: gdb}, nil
}

// Open dispatches on the DSN: sqlite:// paths use SQLite, everything else is
// handed to the postgres driver. TranslateError is always on so duplicate
// keys surface as gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
	if strings.HasPrefix(dsn, sqliteScheme) {
		path := strings.TrimPrefix(dsn, sqliteScheme)
		gdb, err := gorm.Open(sqlite.Open(path), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows one writer; a single connection also keeps
		// :memory: databases shared across goroutines.
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	}

	gdb, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return gdb, nil
}

// Migrate creates or updates every registry table and index.
func Migrate(gdb *gorm.DB) error {
	if gdb == nil {
		return errDBUnavailable
	}
	err := gdb.AutoMigrate(
		&EntityModel{},
		&LedgerRecordModel{},
		&SignatureEnvelopeModel{},
		&SignaturePartyModel{},
		&MinuteBookEntryModel{},
		&SupportingDocumentModel{},
		&VerifiedDocumentModel{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Mode() string {
	if s == nil || s.DB == nil {
		return "no-db"
	}
	return "db"
}
