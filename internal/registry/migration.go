package registry

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/lakewriter/deltaingest/internal/registry/migrations"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

var (
	CodeMigrationFailed = errors.MustNewCode("registry.migration_failed")
)

// migration is the interface every schema migration implements.
type migration interface {
	Version() int
	Name() string
	Description() string
	Up(ctx context.Context, tx bun.Tx) error
}

var allMigrations = []migration{
	&migrations.Migration001{},
}

// openDB opens (creating if absent) the sqlite-backed registry database and
// runs every pending migration inside a single all-or-nothing transaction.
func openDB(ctx context.Context, dbPath string, log zerolog.Logger) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.New(errors.CodePermanentIO, "failed to open registry database", err).AddContext("path", dbPath)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())

	if err := migrateToLatest(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateToLatest(ctx context.Context, db *bun.DB, log zerolog.Logger) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return errors.New(CodeMigrationFailed, "failed to ensure migrations table", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return errors.New(CodeMigrationFailed, "failed to read current migration version", err)
	}

	var pending []migration
	for _, m := range allMigrations {
		if m.Version() > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(CodeMigrationFailed, "failed to begin migration transaction", err)
	}

	for _, m := range pending {
		if err := m.Up(ctx, tx); err != nil {
			_ = tx.Rollback()
			return errors.New(CodeMigrationFailed, "migration failed", err).
				AddContext("version", m.Version()).AddContext("name", m.Name())
		}
		log.Info().Int("version", m.Version()).Str("name", m.Name()).Msg("registry migration applied")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range pending {
		if _, err := tx.ExecContext(ctx, `INSERT INTO bun_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version(), m.Name(), now); err != nil {
			_ = tx.Rollback()
			return errors.New(CodeMigrationFailed, "failed to record migration", err).AddContext("version", m.Version())
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.New(CodeMigrationFailed, "failed to commit migrations", err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model(&struct {
			bun.BaseModel `bun:"table:bun_migrations"`
			Version       int    `bun:"version,pk,type:integer"`
			Name          string `bun:"name,type:text,notnull"`
			AppliedAt     string `bun:"applied_at,type:text,notnull"`
		}{}).
		IfNotExists().
		Exec(ctx)
	return err
}

func currentVersion(ctx context.Context, db *bun.DB) (int, error) {
	var version int
	err := db.NewSelect().
		Column("version").
		Table("bun_migrations").
		Order("version DESC").
		Limit(1).
		Scan(ctx, &version)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}
