package rules

import (
	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/engine/gameevent"
)

// KillOutOfBounds removes every entity a snapshot shows outside the arena.
type KillOutOfBounds struct {
	world  World
	bounds geom.Bounds
}

func NewKillOutOfBounds(w World) *KillOutOfBounds {
	return &KillOutOfBounds{world: w}
}

func (r *KillOutOfBounds) Configure(s config.Settings) { r.bounds = s.Bounds }

func (r *KillOutOfBounds) Process(batch []gameevent.Event) []gameevent.Event {
	out := batch
	for _, ev := range batch {
		st, ok := ev.(gameevent.CurrentState)
		if !ok {
			continue
		}
		for _, e := range st.Entities {
			if r.bounds.Contains(e.Position) {
				continue
			}
			if d, ok := r.world.Remove(e.ID); ok {
				out = append(out, d)
			}
		}
	}
	return out
}
