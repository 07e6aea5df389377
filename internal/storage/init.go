package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

func (s *Storage) runMigrations(ctx context.Context) error {
	const op = "storage.migrations"

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err := goose.UpContext(ctx, s.db, "migrations")
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			s.log.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info().Msg("database migrations applied")
	return nil
}
