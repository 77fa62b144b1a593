package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhasePreUpdate Phase = iota // 0: deliver last tick's events
	PhaseUpdate                 // 1: run request queues
	PhasePersist                // 2: periodic save of dirty objects
	PhaseCleanup                // 3: evict unloaded objects
)

func (p Phase) String() string {
	switch p {
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhasePersist:
		return "persist"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is one step of the game loop tick.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
