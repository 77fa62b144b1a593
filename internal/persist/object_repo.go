package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ObjectRepo keeps snapshots in the objects table.
type ObjectRepo struct {
	db *DB
}

func NewObjectRepo(db *DB) *ObjectRepo {
	return &ObjectRepo{db: db}
}

func (r *ObjectRepo) Read(ctx context.Context, id string) ([]byte, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data FROM objects WHERE tsid = $1`, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return raw, nil
}

func (r *ObjectRepo) Write(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("write: empty tsid")
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO objects (tsid, kind, class_tsid, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tsid) DO UPDATE
		 SET class_tsid = EXCLUDED.class_tsid, data = EXCLUDED.data, updated_at = NOW()`,
		rec.ID, rec.ID[:1], rec.ClassID, rec.Data,
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", rec.ID, err)
	}
	return nil
}

func (r *ObjectRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM objects WHERE tsid = $1`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored objects of the given kind.
func (r *ObjectRepo) Count(ctx context.Context, kind byte) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM objects WHERE kind = $1`, string(kind),
	).Scan(&n)
	return n, err
}

func (r *ObjectRepo) Close() error {
	r.db.Close()
	return nil
}
