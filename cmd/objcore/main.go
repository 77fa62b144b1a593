package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/objcore/internal/clock"
	"github.com/l1jgo/objcore/internal/config"
	"github.com/l1jgo/objcore/internal/core/event"
	coresys "github.com/l1jgo/objcore/internal/core/system"
	"github.com/l1jgo/objcore/internal/data"
	"github.com/l1jgo/objcore/internal/gameobj"
	"github.com/l1jgo/objcore/internal/persist"
	"github.com/l1jgo/objcore/internal/rq"
	"github.com/l1jgo/objcore/internal/scripting"
	"github.com/l1jgo/objcore/internal/system"
	"github.com/l1jgo/objcore/internal/telemetry"
	"github.com/l1jgo/objcore/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName, shard string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              objcore  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(shard: %s)\033[0m\n\n", serverName, shard)
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-len(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("OBJCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	printBanner(cfg.Server.Name, cfg.Server.ShardID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Server.Name, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	// 3. Open storage (postgres is migrated on open)
	printSection("storage")
	backend, err := persist.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer backend.Close()
	printOK(fmt.Sprintf("%s backend ready", cfg.Storage.Backend))
	fmt.Println()

	// 4. Load class data and behavior scripts
	printSection("data")
	classes, err := data.LoadClassTable(cfg.Data.ClassList)
	if err != nil {
		return fmt.Errorf("load class table: %w", err)
	}
	printStat("classes", classes.Count())

	engine, err := scripting.NewEngine(cfg.Scripts.Dir, log.Named("lua"))
	if err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	defer engine.Close()
	types := gameobj.NewRegistry()
	if err := engine.Register(types); err != nil {
		return fmt.Errorf("register scripted types: %w", err)
	}
	types.RegisterBase()
	printStat("scripted types", len(engine.Types()))
	for _, t := range engine.Types() {
		if t.ClassID != "" && classes.Get(t.ClassID) == nil {
			log.Warn("scripted class missing from class list", zap.Stringer("type", t))
		}
	}
	fmt.Println()

	// 5. Queues, event bus and the live object cache
	queues := rq.NewRegistry(log.Named("rq"))
	bus := event.NewBus()
	ws := world.New(backend, types, queues, bus, clock.Real{}, world.Options{
		Shard:    cfg.Server.ShardID,
		MaxDelay: cfg.Timers.MaxDelay,
		Classes:  classes,
	}, log.Named("world"))
	engine.SetTimers(ws.Scheduler())

	event.Subscribe(bus, func(e event.ObjectLoaded) {
		log.Debug("loaded", zap.String("obj", e.ID), zap.String("class", e.ClassID))
	})
	event.Subscribe(bus, func(e event.ObjectDeleted) {
		log.Info("deleted", zap.String("obj", e.ID))
	})

	// 6. Create systems and register with runner
	runner := coresys.NewRunner()
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewQueueSystem(queues, cfg.Loop.MaxUnitsPerTick, log))
	runner.Register(system.NewPersistenceSystem(ws, log, cfg.Persist.SaveIntervalTicks))
	runner.Register(system.NewCleanupSystem(ws))

	// 7. Start game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Loop.TickRate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("game loop running (tick: %s)", cfg.Loop.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Loop.TickRate)
		case sig := <-shutdownCh:
			log.Info("shutdown signal", zap.String("signal", sig.String()))
			// finish what is queued so no timer call is lost
			queues.ProcessAll(0)
			saveCtx, saveCancel := context.WithTimeout(context.Background(), time.Minute)
			err := ws.Shutdown(saveCtx)
			saveCancel()
			if err != nil {
				log.Error("saving world", zap.Error(err))
			}
			log.Info("server stopped", zap.Uint64("ticks", runner.Ticks()))
			return err
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
