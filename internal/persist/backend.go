package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/l1jgo/objcore/internal/config"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Read when no snapshot exists for an id.
var ErrNotFound = errors.New("object not found")

// Record is an encoded object snapshot.
type Record struct {
	ID      string
	ClassID string
	Data    []byte
}

// Backend stores encoded object snapshots.
type Backend interface {
	Read(ctx context.Context, id string) ([]byte, error)
	Write(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open connects the backend selected in cfg. The postgres backend is
// migrated before it is returned.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (Backend, error) {
	switch cfg.Storage.Backend {
	case "badger":
		s, err := OpenBadger(BadgerOptions{
			Path:     cfg.Storage.BadgerPath,
			InMemory: cfg.Storage.InMemory,
			Logger:   log.Named("badger"),
		})
		if err != nil {
			return nil, err
		}
		log.Info("storage opened", zap.String("backend", "badger"),
			zap.String("path", cfg.Storage.BadgerPath), zap.Bool("in_memory", cfg.Storage.InMemory))
		return s, nil
	case "postgres", "":
		db, err := NewDB(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return NewObjectRepo(db), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
