package persist

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/l1jgo/objcore/internal/config"
	"go.uber.org/zap"
)

const defaultConnectTimeout = 5 * time.Second

// DB is the pgx pool behind the postgres snapshot store.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// poolConfig turns the database section into a pool configuration. It
// does not connect.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	pc.MinConns = int32(min(cfg.MaxIdleConns, int(pc.MaxConns)))
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pc.ConnConfig.ConnectTimeout = defaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	params := pc.ConnConfig.RuntimeParams
	if cfg.AppName != "" {
		params["application_name"] = cfg.AppName
	}
	// bounds every snapshot query
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	return pc, nil
}

// NewDB connects the snapshot store pool and checks it answers.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	db := &DB{Pool: pool, log: log}
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("snapshot store connected",
		zap.String("host", pc.ConnConfig.Host), zap.String("database", pc.ConnConfig.Database),
		zap.Int32("max_conns", pc.MaxConns), zap.Int32("min_conns", pc.MinConns),
		zap.Duration("statement_timeout", cfg.StatementTimeout))
	return db, nil
}

// Ping checks the pool within the connect timeout.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.Pool.Config().ConnConfig.ConnectTimeout)
	defer cancel()
	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// Close logs the pool's lifetime counters and closes it.
func (db *DB) Close() {
	st := db.Pool.Stat()
	db.log.Info("snapshot store closing",
		zap.Int64("acquires", st.AcquireCount()),
		zap.Int64("empty_acquires", st.EmptyAcquireCount()),
		zap.Duration("acquire_wait", st.AcquireDuration()),
		zap.Int32("open_conns", st.TotalConns()))
	db.Pool.Close()
}
