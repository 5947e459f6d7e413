package migrations

import (
	"embed"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed *.sql
var migrationsFS embed.FS

// Run performs all migrations against the database, picking the migrate
// driver from the sqlx driver name.
func Run(dbx *sqlx.DB) error {
	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("error creating migrations source: %s", err)
	}

	var (
		instance database.Driver
		name     string
	)
	switch dbx.DriverName() {
	case "postgres":
		name = "postgres"
		instance, err = postgres.WithInstance(dbx.DB, &postgres.Config{})
	default:
		name = "sqlite3"
		instance, err = sqlite.WithInstance(dbx.DB, &sqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("error creating %s instance for migration: %s", name, err)
	}

	migrator, err := migrate.NewWithInstance("iofs", d, name, instance)
	if err != nil {
		return fmt.Errorf("error creating migrator: %s", err)
	}
	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("error migrating: %s", err)
	}
	slog.Info("migrated", "driver", name)

	return nil
}
