package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseChanges   Phase = iota // 0: apply buffered inserts, updates, removals
	PhaseIntegrate              // 1: integrate acceleration and velocity
	PhaseCollide                // 2: pairwise overlap tests, collision events
	PhaseBroadcast              // 3: periodic state snapshot
)

func (p Phase) String() string {
	switch p {
	case PhaseChanges:
		return "changes"
	case PhaseIntegrate:
		return "integrate"
	case PhaseCollide:
		return "collide"
	case PhaseBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// System is one stage of a tick.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
