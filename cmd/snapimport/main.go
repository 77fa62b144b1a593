// snapimport loads a directory of JSON object snapshots (<tsid>.json) into
// the configured storage backend.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/l1jgo/objcore/internal/config"
	"github.com/l1jgo/objcore/internal/persist"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: snapimport <snapshot dir> [--dry-run]")
		os.Exit(1)
	}
	dryRun := len(os.Args) > 2 && os.Args[2] == "--dry-run"

	cfgPath := "config/server.toml"
	if p := os.Getenv("OBJCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var backend persist.Backend
	if !dryRun {
		backend, err = persist.Open(ctx, cfg, log)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer backend.Close()
	}

	res, err := importDir(ctx, os.Args[1], backend, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d snapshots from %s (%d skipped)\n", res.Imported, os.Args[1], res.Skipped)
}
