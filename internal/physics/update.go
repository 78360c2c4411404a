package physics

import "github.com/dronearena/server/internal/core/geom"

// Update is a buffered change to one entity, applied by the stepper at the
// next tick boundary.
type Update interface {
	apply(e *Entity)
}

type PositionUpdate struct{ Position geom.Vector }

func (u PositionUpdate) apply(e *Entity) { e.Position = u.Position }

type VelocityUpdate struct{ Velocity geom.Vector }

func (u VelocityUpdate) apply(e *Entity) { e.Velocity = u.Velocity }

type AccelerationUpdate struct{ Acceleration geom.Vector }

func (u AccelerationUpdate) apply(e *Entity) { e.Acceleration = u.Acceleration }
