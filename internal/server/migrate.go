package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies schema migrations from dir to dsn. direction is "up" or
// "down"; steps of zero applies everything. An already current schema is not
// an error.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = "migrations"
	}
	if !strings.Contains(dir, "://") {
		dir = "file://" + dir
	}
	if dsn == "" {
		return fmt.Errorf("migrate: database dsn is required")
	}
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("migrate: unknown direction %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
