package system

import (
	"time"

	coresys "github.com/l1jgo/objcore/internal/core/system"
	"github.com/l1jgo/objcore/internal/rq"
	"go.uber.org/zap"
)

// QueueSystem runs the pending units of every request queue. Timer calls,
// lifecycle work and external requests all execute here, on the game loop.
// Phase 1 (Update).
type QueueSystem struct {
	queues  *rq.Registry
	maxUnit int // per queue per tick, 0 = drain
	log     *zap.Logger
}

func NewQueueSystem(queues *rq.Registry, maxUnitsPerTick int, log *zap.Logger) *QueueSystem {
	return &QueueSystem{queues: queues, maxUnit: maxUnitsPerTick, log: log}
}

func (s *QueueSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *QueueSystem) Update(dt time.Duration) {
	start := time.Now()
	n := s.queues.ProcessAll(s.maxUnit)
	if took := time.Since(start); n > 0 && dt > 0 && took > dt {
		s.log.Warn("request queues overran the tick",
			zap.Int("units", n), zap.Duration("took", took), zap.Duration("tick", dt))
	}
}
