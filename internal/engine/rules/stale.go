package rules

import (
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/engine/gameevent"
)

// RemoveStaleStateData drops entities that have been missing from
// snapshots for longer than the stale window. Age is measured against the
// newest snapshot seen, so a paused simulation ages nothing. Disabled while
// broadcasts are off, since nothing would ever be seen.
type RemoveStaleStateData struct {
	world World
	after time.Duration
	off   bool
}

func NewRemoveStaleStateData(w World) *RemoveStaleStateData {
	return &RemoveStaleStateData{world: w}
}

func (r *RemoveStaleStateData) Configure(s config.Settings) {
	r.after = s.StaleAfter
	r.off = s.BroadcastInterval < 0 || s.StaleAfter <= 0
}

func (r *RemoveStaleStateData) Process(batch []gameevent.Event) []gameevent.Event {
	if r.off {
		return batch
	}
	out := batch
	for _, ev := range batch {
		if _, ok := ev.(gameevent.IntervalTick); ok {
			out = append(out, r.sweep()...)
		}
	}
	return out
}

func (r *RemoveStaleStateData) sweep() []gameevent.Event {
	all := r.world.State().All()
	var newest time.Time
	for _, e := range all {
		if e.LastSeen.After(newest) {
			newest = e.LastSeen
		}
	}
	var out []gameevent.Event
	for _, e := range all {
		if newest.Sub(e.LastSeen) <= r.after {
			continue
		}
		if d, ok := r.world.Remove(e.ID); ok {
			out = append(out, d)
		}
	}
	return out
}
