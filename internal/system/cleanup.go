package system

import (
	"context"
	"time"

	coresys "github.com/l1jgo/objcore/internal/core/system"
	"github.com/l1jgo/objcore/internal/world"
)

// CleanupSystem flushes the deferred eviction queue at tick end.
// Phase 3 (Cleanup).
type CleanupSystem struct {
	world *world.State
}

func NewCleanupSystem(ws *world.State) *CleanupSystem {
	return &CleanupSystem{world: ws}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.world.FlushUnloadQueue(ctx)
}
