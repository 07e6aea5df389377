package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"photogallery/internal/dbx"
	"photogallery/internal/models"
)

// Storage is the Postgres-backed Store.
type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB
	log  zerolog.Logger
}

func NewStorage(ctx context.Context, dsn string, log zerolog.Logger) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	s := &Storage{
		pool: pool,
		db:   stdlib.OpenDBFromPool(pool),
		log:  log.With().Str("component", "storage").Logger(),
	}
	if err := s.runMigrations(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

func (s *Storage) Images() Images {
	return NewImageRepository(s.db)
}

func (s *Storage) Galleries() Galleries {
	return NewGalleryRepository(s.db)
}

func (s *Storage) RemoveImage(ctx context.Context, id int64) (*models.Image, error) {
	return removeImage(ctx, s.db, id)
}

func removeImage(ctx context.Context, db *sql.DB, id int64) (*models.Image, error) {
	const op = "storage.RemoveImage"

	var removed *models.Image
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		images := NewImageRepository(tx)
		img, err := images.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := NewGalleryRepository(tx).ClearCover(ctx, id); err != nil {
			return err
		}
		if err := images.Delete(ctx, id); err != nil {
			return err
		}
		removed = img
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return removed, nil
}
