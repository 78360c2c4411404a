// Package driver connects the physics stepper to the game layer. It observes
// the stepper, turning its callbacks into queued game events, and is the
// single entry point through which handlers and rules change the world.
package driver

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/engine/gameevent"
	"github.com/dronearena/server/internal/engine/gamestate"
	"github.com/dronearena/server/internal/engine/idmapper"
	"github.com/dronearena/server/internal/engine/queue"
	"github.com/dronearena/server/internal/physics"
	"go.uber.org/zap"
)

// ErrDuplicateIdentity is returned by Spawn for a protocol identity that is
// already in the game.
var ErrDuplicateIdentity = errors.New("identity already in game")

type Driver struct {
	store  *physics.Store
	state  *gamestate.Manager
	ids    *idmapper.Mapper
	events *queue.Queue[gameevent.Event]
	steer  float64
	now    func() time.Time
	log    *zap.Logger

	playing atomic.Bool
}

// New returns a driver for store. steerAccel is the acceleration applied to
// drones heading for a target point.
func New(store *physics.Store, steerAccel float64, log *zap.Logger) *Driver {
	return &Driver{
		store:  store,
		state:  gamestate.NewManager(),
		ids:    idmapper.New(),
		events: queue.New[gameevent.Event](),
		steer:  steerAccel,
		now:    time.Now,
		log:    log,
	}
}

func (d *Driver) State() *gamestate.Manager { return d.state }

func (d *Driver) IDs() *idmapper.Mapper { return d.ids }

func (d *Driver) Events() *queue.Queue[gameevent.Event] { return d.events }

func (d *Driver) Now() time.Time { return d.now() }

// SetPlaying marks whether the game is running. The engine flips it on
// lifecycle transitions.
func (d *Driver) SetPlaying(on bool) { d.playing.Store(on) }

func (d *Driver) Playing() bool { return d.playing.Load() }

// ProtocolID implements gameevent.Resolver.
func (d *Driver) ProtocolID(id int) (string, bool) { return d.ids.ProtocolID(id) }

// Post queues an event for the rule chain.
func (d *Driver) Post(ev gameevent.Event) { d.events.Put(ev) }

func (d *Driver) participant(e physics.Entity) gameevent.Participant {
	g, ok := d.state.Get(e.ID)
	if !ok {
		return gameevent.Participant{ID: e.ID}
	}
	return gameevent.Participant{ID: e.ID, Kind: g.Kind, ProtocolID: g.ProtocolID}
}

// CollisionStarted implements physics.Observer.
func (d *Driver) CollisionStarted(e1, e2 physics.Entity) {
	d.events.Put(gameevent.CollisionStart{A: d.participant(e1), B: d.participant(e2)})
}

// CollisionStopped implements physics.Observer.
func (d *Driver) CollisionStopped(e1, e2 physics.Entity) {
	d.events.Put(gameevent.CollisionEnd{A: d.participant(e1), B: d.participant(e2)})
}

// StateBroadcast implements physics.Observer. The snapshot is merged into
// the game state before the event is queued, so rules see positions no
// older than the event itself.
func (d *Driver) StateBroadcast(state []physics.Entity) {
	now := d.now()
	merged := d.state.Merge(state, now)
	d.steerAll(merged)
	d.events.Put(gameevent.CurrentState{At: now, Entities: merged})
}

// steerAll points the acceleration of every drone with a target at that
// target, and brings it to rest on arrival.
func (d *Driver) steerAll(ents []gamestate.GameEntity) {
	for i := range ents {
		e := &ents[i]
		if e.Target == nil {
			continue
		}
		to := e.Target.Sub(e.Position)
		if to.Length() <= e.Size.Width/2 {
			d.store.AddUpdates(e.ID, []physics.Update{
				physics.AccelerationUpdate{Acceleration: geom.Zero},
				physics.VelocityUpdate{Velocity: geom.Zero},
			})
			d.state.Update(e.ID, func(g *gamestate.GameEntity) {
				g.Target = nil
				g.Acceleration = geom.Zero
			})
			continue
		}
		acc := to.Normalize().Scale(d.steer)
		d.store.AddUpdate(e.ID, physics.AccelerationUpdate{Acceleration: acc})
		d.state.Update(e.ID, func(g *gamestate.GameEntity) {
			g.Acceleration = acc
			g.Direction = geom.PolarOf(to)
		})
	}
}

// Spawn adds e to the game under protocolID and queues its insertion into
// the physics store. e.ID is assigned here.
func (d *Driver) Spawn(e gamestate.GameEntity, protocolID string) (int, error) {
	if protocolID == "" {
		return 0, fmt.Errorf("spawn %s: empty identity", e.Kind)
	}
	if _, ok := d.ids.GameEngineID(protocolID); ok {
		return 0, fmt.Errorf("spawn %s %q: %w", e.Kind, protocolID, ErrDuplicateIdentity)
	}
	e.ID = d.ids.Add(protocolID)
	e.ProtocolID = idmapper.Normalize(protocolID)
	now := d.now()
	e.SpawnedAt = now
	e.LastSeen = now
	d.state.Add(e)
	d.store.AddInsert(e.Physics())
	d.log.Debug("entity spawned",
		zap.Int("entity", e.ID),
		zap.String("protocol_id", protocolID),
		zap.String("kind", e.Kind.String()),
	)
	return e.ID, nil
}

// Remove takes id out of the game and queues its removal from the physics
// store. The returned event carries the protocol identity the entity had.
func (d *Driver) Remove(id int) (gameevent.Destroyed, bool) {
	e, ok := d.state.Remove(id)
	if !ok {
		return gameevent.Destroyed{}, false
	}
	pid, _ := d.ids.ProtocolID(id)
	d.ids.Remove(id)
	d.store.AddRemoval(id)
	d.log.Debug("entity removed",
		zap.Int("entity", id),
		zap.String("protocol_id", pid),
		zap.String("kind", e.Kind.String()),
	)
	return gameevent.Destroyed{ID: id, Kind: e.Kind, ProtocolID: pid}, true
}

// Resolve maps a protocol identity to an engine id.
func (d *Driver) Resolve(protocolID string) (int, bool) {
	return d.ids.GameEngineID(protocolID)
}

// SetAcceleration replaces the acceleration of id and cancels any steering.
func (d *Driver) SetAcceleration(id int, acc geom.Vector) bool {
	ok := d.state.Update(id, func(e *gamestate.GameEntity) {
		e.Acceleration = acc
		e.Target = nil
	})
	if ok {
		d.store.AddUpdate(id, physics.AccelerationUpdate{Acceleration: acc})
	}
	return ok
}

// SetVelocity replaces the velocity of id.
func (d *Driver) SetVelocity(id int, v geom.Vector) bool {
	ok := d.state.Update(id, func(e *gamestate.GameEntity) { e.Velocity = v })
	if ok {
		d.store.AddUpdate(id, physics.VelocityUpdate{Velocity: v})
	}
	return ok
}

// SetDirection records where id is facing. Direction has no physical effect.
func (d *Driver) SetDirection(id int, dir geom.Polar) bool {
	return d.state.Update(id, func(e *gamestate.GameEntity) { e.Direction = dir })
}

// SetTarget makes id steer toward target on every snapshot. A nil target
// stops steering and leaves the acceleration as it is.
func (d *Driver) SetTarget(id int, target *geom.Vector) bool {
	var t *geom.Vector
	if target != nil {
		v := *target
		t = &v
	}
	return d.state.Update(id, func(e *gamestate.GameEntity) { e.Target = t })
}

// Reset forgets every entity and queued event. The physics store is reset
// separately through the stepper.
func (d *Driver) Reset() {
	d.state.Clear()
	d.ids.Clear()
	if n := d.events.Clear(); n > 0 {
		d.log.Debug("dropped queued events on reset", zap.Int("events", n))
	}
}
