package rules

import (
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/engine/gameevent"
	"github.com/dronearena/server/internal/engine/gamestate"
)

// CollisionRule resolves bullet hits. A bullet hitting a drone other than
// its shooter damages the drone and is destroyed; a bullet hitting an
// obstacle is destroyed. Every other collision passes through untouched.
type CollisionRule struct {
	world  World
	damage DamageFunc
}

func NewCollisionRule(w World, damage DamageFunc) *CollisionRule {
	if damage == nil {
		damage = func(bullet, _ gamestate.GameEntity, _ time.Time) int { return bullet.Damage }
	}
	return &CollisionRule{world: w, damage: damage}
}

func (r *CollisionRule) Configure(config.Settings) {}

func (r *CollisionRule) Process(batch []gameevent.Event) []gameevent.Event {
	out := batch
	for _, ev := range batch {
		cs, ok := ev.(gameevent.CollisionStart)
		if !ok {
			continue
		}
		out = append(out, r.resolve(cs)...)
	}
	return out
}

func (r *CollisionRule) resolve(cs gameevent.CollisionStart) []gameevent.Event {
	b, other, ok := cs.Involves(gamestate.KindBullet)
	if !ok {
		return nil
	}
	state := r.world.State()
	bullet, ok := state.Get(b.ID)
	if !ok {
		// already consumed by an earlier hit
		return nil
	}

	switch other.Kind {
	case gamestate.KindDrone:
		if bullet.OwnerID == other.ID {
			return nil
		}
		target, ok := state.Get(other.ID)
		if !ok {
			return nil
		}
		dmg := r.damage(bullet, target, r.world.Now())
		hp, ok := state.Damage(other.ID, dmg)
		if !ok {
			return nil
		}
		out := []gameevent.Event{gameevent.Damaged{
			ID:         other.ID,
			Kind:       other.Kind,
			ProtocolID: target.ProtocolID,
			Damage:     dmg,
			HP:         hp,
		}}
		if d, ok := r.world.Remove(b.ID); ok {
			out = append(out, d)
		}
		return out
	case gamestate.KindObstacle:
		if d, ok := r.world.Remove(b.ID); ok {
			return []gameevent.Event{d}
		}
	}
	return nil
}
