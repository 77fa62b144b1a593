package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const objectKeyPrefix = "obj/"

// BadgerOptions configures the embedded store.
type BadgerOptions struct {
	// Path to the database directory. If empty, the store is in-memory.
	Path     string
	InMemory bool
	// Logger receives badger's own messages. If nil, they are dropped.
	Logger *zap.Logger
}

// BadgerStore keeps snapshots in an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	bo := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		bo = bo.WithInMemory(true)
	}
	if opts.Logger != nil {
		bo = bo.WithLogger(badgerLogger{opts.Logger.Sugar()})
	} else {
		bo = bo.WithLogger(nil)
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func objectKey(id string) []byte {
	return []byte(objectKeyPrefix + id)
}

func (s *BadgerStore) Read(_ context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return data, nil
}

func (s *BadgerStore) Write(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("write: empty tsid")
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(objectKey(rec.ID), rec.Data)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", rec.ID, err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(objectKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// IDs returns the ids of all stored objects in key order.
func (s *BadgerStore) IDs(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(objectKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(objectKeyPrefix):]))
		}
		return nil
	})
	return ids, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's printf-style logging into zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
