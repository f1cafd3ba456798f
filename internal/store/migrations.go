package store

import (
	"database/sql"
	"fmt"

	assets "github.com/haatos/simple-cd"
	"github.com/pressly/goose/v3"
)

func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(assets.MigrationsFS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("err running migrations: %w", err)
	}
	return nil
}
