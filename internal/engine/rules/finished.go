package rules

import (
	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/engine/gameevent"
	"github.com/dronearena/server/internal/engine/gamestate"
)

// DeathmatchGameFinished announces the last drone standing. A game only
// counts once it has had two living drones, and is announced once.
type DeathmatchGameFinished struct {
	world    World
	started  bool
	finished bool
}

func NewDeathmatchGameFinished(w World) *DeathmatchGameFinished {
	return &DeathmatchGameFinished{world: w}
}

func (r *DeathmatchGameFinished) Configure(config.Settings) {
	r.started, r.finished = false, false
}

func (r *DeathmatchGameFinished) Process(batch []gameevent.Event) []gameevent.Event {
	if r.finished || !hasTick(batch) || !r.world.Playing() {
		return batch
	}
	alive := livingDrones(r.world)
	if len(alive) >= 2 {
		r.started = true
		return batch
	}
	if !r.started {
		return batch
	}
	r.finished = true
	var winner string
	if len(alive) == 1 {
		winner, _ = r.world.ProtocolID(alive[0].ID)
	}
	return append(batch, gameevent.GameFinished{Winner: winner, Mode: string(config.ModeDeathmatch)})
}

// TeamplayGameFinished announces the last team standing.
type TeamplayGameFinished struct {
	world    World
	started  bool
	finished bool
}

func NewTeamplayGameFinished(w World) *TeamplayGameFinished {
	return &TeamplayGameFinished{world: w}
}

func (r *TeamplayGameFinished) Configure(config.Settings) {
	r.started, r.finished = false, false
}

func (r *TeamplayGameFinished) Process(batch []gameevent.Event) []gameevent.Event {
	if r.finished || !hasTick(batch) || !r.world.Playing() {
		return batch
	}
	teams := make(map[string]bool)
	var last string
	for _, d := range livingDrones(r.world) {
		teams[d.Team] = true
		last = d.Team
	}
	if len(teams) >= 2 {
		r.started = true
		return batch
	}
	if !r.started {
		return batch
	}
	r.finished = true
	return append(batch, gameevent.GameFinished{Winner: last, Mode: string(config.ModeTeamplay)})
}

func hasTick(batch []gameevent.Event) bool {
	for _, ev := range batch {
		if _, ok := ev.(gameevent.IntervalTick); ok {
			return true
		}
	}
	return false
}

func livingDrones(w World) []gamestate.GameEntity {
	return w.State().Filter(func(e *gamestate.GameEntity) bool {
		return e.Kind == gamestate.KindDrone && e.Alive()
	})
}
