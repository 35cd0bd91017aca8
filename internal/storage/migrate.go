package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	iofs "github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed migrations
var migrationsFS embed.FS

const migrationsTable = "schema_migrations"

// Migrate applies all pending SQL migrations bundled for the store's dialect.
func Migrate(ctx context.Context, store *Store, log zerolog.Logger) (err error) {
	dir := "migrations/" + string(store.dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			log.Debug().Str("file", entry.Name()).Msg("found migration file")
		}
	}

	driver, release, err := migrationDriver(ctx, store)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := release(); err == nil && closeErr != nil {
			err = fmt.Errorf("close migration connection: %w", closeErr)
		}
	}()

	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer source.Close()

	migrator, err := migrate.NewWithInstance("iofs", source, string(store.dialect), driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	version, dirty, err := migrator.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info().Msg("no migrations have been applied yet")
	case err != nil:
		log.Warn().Err(err).Msg("read migration version")
	default:
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration state")
	}

	if dirty {
		log.Warn().Uint("version", version).Msg("database is dirty, forcing version")
		if forceErr := migrator.Force(int(version)); forceErr != nil {
			return fmt.Errorf("force version %d: %w", version, forceErr)
		}
	}

	if err = migrator.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		log.Info().Msg("no new migrations to apply")
	} else {
		log.Info().Msg("migrations applied")
	}

	if finalVersion, _, versionErr := migrator.Version(); versionErr == nil {
		log.Info().Uint("version", finalVersion).Msg("migration version")
	}
	return nil
}

// migrationDriver returns a golang-migrate driver for the store. The release
// func frees whatever the driver holds without closing the shared pool.
func migrationDriver(ctx context.Context, store *Store) (database.Driver, func() error, error) {
	switch store.dialect {
	case Postgres:
		conn, err := store.db.Conn(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire dedicated connection: %w", err)
		}
		driver, err := migratepostgres.WithConnection(ctx, conn, &migratepostgres.Config{
			MigrationsTable: migrationsTable,
		})
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("initialize postgres driver: %w", err)
		}
		return driver, driver.Close, nil
	case MySQL:
		conn, err := store.db.Conn(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire dedicated connection: %w", err)
		}
		driver, err := migratemysql.WithConnection(ctx, conn, &migratemysql.Config{
			MigrationsTable: migrationsTable,
		})
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("initialize mysql driver: %w", err)
		}
		return driver, driver.Close, nil
	case SQLite:
		// Close on this driver would close store.db.
		driver, err := migratesqlite.WithInstance(store.db, &migratesqlite.Config{
			MigrationsTable: migrationsTable,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize sqlite driver: %w", err)
		}
		return driver, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported driver: %s", store.dialect)
	}
}
