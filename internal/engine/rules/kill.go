package rules

import (
	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/engine/gameevent"
)

// KillEntitiesRule removes health-bearing entities whose HP has run out. It
// acts on snapshots only, so a fatal hit is published as damage before the
// kill follows with the next snapshot.
type KillEntitiesRule struct {
	world World
}

func NewKillEntitiesRule(w World) *KillEntitiesRule {
	return &KillEntitiesRule{world: w}
}

func (r *KillEntitiesRule) Configure(config.Settings) {}

func (r *KillEntitiesRule) Process(batch []gameevent.Event) []gameevent.Event {
	out := batch
	state := r.world.State()
	for _, ev := range batch {
		st, ok := ev.(gameevent.CurrentState)
		if !ok {
			continue
		}
		for _, snap := range st.Entities {
			e, ok := state.Get(snap.ID)
			if !ok || e.Alive() {
				continue
			}
			if d, ok := r.world.Remove(e.ID); ok {
				out = append(out, d)
			}
		}
	}
	return out
}
