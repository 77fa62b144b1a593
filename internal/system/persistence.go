package system

import (
	"context"
	"time"

	coresys "github.com/l1jgo/objcore/internal/core/system"
	"github.com/l1jgo/objcore/internal/world"
	"go.uber.org/zap"
)

// PersistenceSystem periodically writes every dirty live object that the
// post-request saves missed. Phase 2 (Persist).
type PersistenceSystem struct {
	world     *world.State
	log       *zap.Logger
	tickCount int
	interval  int // auto-save every N ticks
}

func NewPersistenceSystem(ws *world.State, log *zap.Logger, intervalTicks int) *PersistenceSystem {
	return &PersistenceSystem{
		world:    ws,
		log:      log,
		interval: intervalTicks,
	}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	if s.interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n := s.world.SaveDirty(ctx); n > 0 {
		s.log.Info("auto-save", zap.Int("objects", n))
	}
}
