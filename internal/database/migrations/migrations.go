package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Files holds the schema steps shipped with the binary.
//
//go:embed *.up.sql
var Files embed.FS

const upSuffix = ".up.sql"

// Step is one versioned schema change.
type Step struct {
	Version int
	Name    string
	SQL     string
}

// Load reads every NNN_name.up.sql file at the root of fsys, ordered by version.
// Files whose prefix is not a number are skipped.
func Load(fsys fs.FS) ([]Step, error) {
	names, err := fs.Glob(fsys, "*"+upSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema files: %w", err)
	}

	steps := make([]Step, 0, len(names))
	for _, name := range names {
		prefix, label, ok := strings.Cut(strings.TrimSuffix(path.Base(name), upSuffix), "_")
		version, convErr := strconv.Atoi(prefix)
		if !ok || convErr != nil || version <= 0 {
			log.Warn().Str("file", name).Msg("Skipping schema file without version prefix")
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file %s: %w", name, err)
		}
		steps = append(steps, Step{Version: version, Name: label, SQL: string(body)})
	}

	slices.SortFunc(steps, func(a, b Step) int { return a.Version - b.Version })
	for i := 1; i < len(steps); i++ {
		if steps[i].Version == steps[i-1].Version {
			return nil, fmt.Errorf("duplicate schema version %d", steps[i].Version)
		}
	}
	return steps, nil
}

// Apply runs the steps that schema_migrations has not recorded yet, each in
// its own transaction. It returns how many steps were applied.
func Apply(db *sqlx.DB, steps []Step) (int, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var done []int
	if err := db.Select(&done, `SELECT version FROM schema_migrations`); err != nil {
		return 0, fmt.Errorf("failed to read applied versions: %w", err)
	}

	applied := 0
	for _, step := range steps {
		if slices.Contains(done, step.Version) {
			continue
		}
		if err := applyStep(db, step); err != nil {
			return applied, err
		}
		applied++
		log.Info().
			Int("version", step.Version).
			Str("name", step.Name).
			Msg("Applied schema step")
	}

	log.Debug().
		Int("known", len(steps)).
		Int("applied", applied).
		Msg("Schema up to date")
	return applied, nil
}

func applyStep(db *sqlx.DB, step Step) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin schema step %d: %w", step.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(step.SQL); err != nil {
		return fmt.Errorf("schema step %d (%s): %w", step.Version, step.Name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, step.Version, step.Name); err != nil {
		return fmt.Errorf("failed to record schema step %d: %w", step.Version, err)
	}
	return tx.Commit()
}
