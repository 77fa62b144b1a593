package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/l1jgo/objcore/internal/gameobj"
	"github.com/l1jgo/objcore/internal/persist"
	"go.uber.org/zap"
)

type result struct {
	Imported int
	Skipped  int
}

// importDir validates every <tsid>.json in dir and writes it to backend
// re-encoded. A nil backend only validates. Invalid files are logged and
// skipped; a write failure aborts.
func importDir(ctx context.Context, dir string, backend persist.Backend, log *zap.Logger) (result, error) {
	var res result
	names, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return res, err
	}
	sort.Strings(names)

	types := gameobj.NewRegistry()
	types.RegisterBase()
	for _, path := range names {
		rec, err := readSnapshot(path, types)
		if err != nil {
			log.Warn("skipping snapshot", zap.String("file", path), zap.Error(err))
			res.Skipped++
			continue
		}
		if backend != nil {
			if err := backend.Write(ctx, rec); err != nil {
				return res, fmt.Errorf("import %s: %w", path, err)
			}
		}
		res.Imported++
	}
	return res, nil
}

func readSnapshot(path string, types *gameobj.Registry) (persist.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return persist.Record{}, err
	}
	d, err := gameobj.Decode(raw)
	if err != nil {
		return persist.Record{}, err
	}
	tsid := strings.TrimSuffix(filepath.Base(path), ".json")
	if id, _ := d[gameobj.KeyID].(string); id != tsid {
		return persist.Record{}, fmt.Errorf("file name does not match tsid %q", id)
	}
	if !gameobj.ValidKind(gameobj.KindOf(tsid)) {
		return persist.Record{}, fmt.Errorf("unknown kind initial %q", tsid[:1])
	}
	typ, err := types.Lookup(gameobj.KindOf(tsid), "")
	if err != nil {
		return persist.Record{}, err
	}
	// restoring checks the timer records
	o, err := gameobj.New(typ, d, time.Now())
	if err != nil {
		return persist.Record{}, err
	}
	data, err := gameobj.Encode(d)
	if err != nil {
		return persist.Record{}, err
	}
	return persist.Record{ID: tsid, ClassID: o.ClassID, Data: data}, nil
}
