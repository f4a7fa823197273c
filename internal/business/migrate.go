package business

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/XSAM/otelsql"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	// Register pgx driver
	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/openkcm/auth-oidc/internal/config"
	migrations "github.com/openkcm/auth-oidc/sql"
)

// schemaTables are created by the migrations and used by the token and state repositories.
var schemaTables = []string{"oidc_tokens", "oidc_states"}

// MigrateMain brings the token and state schema up to date.
func MigrateMain(ctx context.Context, cfg *config.Config) error {
	dbSystemName := semconv.DBSystemNamePostgreSQL

	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return fmt.Errorf("making connection string from config: %w", err)
	}

	db, err := otelsql.Open("pgx", connStr, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return oops.In("main").Wrapf(err, "opening DB connection")
	}
	defer db.Close()

	reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return fmt.Errorf("registering db stats metrics: %w", err)
	}

	defer func() {
		err := reg.Unregister()
		if err != nil {
			slogctx.Error(ctx, "failed to unregister db stats metrics", "error", err)
		}
	}()

	version, err := applyMigrations(ctx, db)
	if err != nil {
		return err
	}

	slogctx.Info(ctx, "Database schema is up to date", "version", version)

	return nil
}

// applyMigrations runs the pending migrations, checks the tables exist and
// returns the resulting schema version.
func applyMigrations(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return 0, fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("applying migrations: %w", err)
	}

	for _, res := range results {
		slogctx.Info(ctx, "Applied migration",
			"version", res.Source.Version,
			"file", filepath.Base(res.Source.Path),
			"duration", res.Duration,
		)
	}

	if err := verifySchema(ctx, db, schemaTables...); err != nil {
		return 0, err
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	return version, nil
}

func verifySchema(ctx context.Context, db *sql.DB, tables ...string) error {
	for _, table := range tables {
		var exists bool

		err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL;`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("looking up table %s: %w", table, err)
		}

		if !exists {
			return fmt.Errorf("table %s is missing after migration", table)
		}
	}

	return nil
}
