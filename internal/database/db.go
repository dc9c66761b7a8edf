package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"vetrefill/jobs/internal/database/migrations"
	"vetrefill/jobs/internal/models"
)

// DB represents the database connection
type DB struct {
	*sqlx.DB
}

// NewDB opens the SQLite database, applies pragmas and runs pending migrations.
//
// Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate), so a
// transaction holds the write lock from its first statement. Check-then-insert
// sequences inside one transaction are therefore serialized against every
// other writer.
func NewDB(cfg *Config) (*DB, error) {
	dir := filepath.Dir(cfg.DBPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d&_txlock=immediate&_foreign_keys=on",
		cfg.DBPath, cfg.BusyTimeoutMS)

	log.Info().Str("path", cfg.DBPath).Msg("Opening database")

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("Failed to set PRAGMA")
		}
	}

	steps, err := migrations.Load(migrations.Files)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	if _, err := migrations.Apply(db, steps); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	log.Debug().Msg("Database connection successful")
	return &DB{db}, nil
}

// InsertFeedSource inserts a new feed source and sets its ID.
func (db *DB) InsertFeedSource(ctx context.Context, src *models.FeedSource) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO feed_sources (url, name, default_category, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		src.URL,
		src.Name,
		src.DefaultCategory,
		src.Enabled,
		src.CreatedAt.UTC(),
		src.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	src.ID, err = res.LastInsertId()
	return err
}

// IsUniqueViolation reports whether err was raised by a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
