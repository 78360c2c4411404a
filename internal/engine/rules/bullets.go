package rules

import (
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/engine/gameevent"
	"github.com/dronearena/server/internal/engine/gamestate"
)

// RemoveStrayBullets removes bullets whose shooter is gone or that have
// been flying longer than the bullet TTL. Zero TTL means no age limit.
type RemoveStrayBullets struct {
	world World
	ttl   time.Duration
}

func NewRemoveStrayBullets(w World) *RemoveStrayBullets {
	return &RemoveStrayBullets{world: w}
}

func (r *RemoveStrayBullets) Configure(s config.Settings) { r.ttl = s.BulletTTL }

func (r *RemoveStrayBullets) Process(batch []gameevent.Event) []gameevent.Event {
	out := batch
	for _, ev := range batch {
		st, ok := ev.(gameevent.CurrentState)
		if !ok {
			continue
		}
		out = append(out, r.sweep(st.At)...)
	}
	return out
}

func (r *RemoveStrayBullets) sweep(now time.Time) []gameevent.Event {
	state := r.world.State()
	bullets := state.Filter(func(e *gamestate.GameEntity) bool { return e.Kind == gamestate.KindBullet })
	var out []gameevent.Event
	for _, b := range bullets {
		expired := r.ttl > 0 && now.Sub(b.SpawnedAt) > r.ttl
		if !expired && state.Exists(b.OwnerID) {
			continue
		}
		if d, ok := r.world.Remove(b.ID); ok {
			out = append(out, d)
		}
	}
	return out
}
