package physics

import "github.com/dronearena/server/internal/core/geom"

// Entity is the kinematic state of one simulated object. It holds no
// pointers, so a value copy is a deep copy.
type Entity struct {
	ID           int
	Size         geom.Size
	Position     geom.Vector
	Velocity     geom.Vector
	Acceleration geom.Vector
}

func NewEntity(id int, size geom.Size, position, velocity geom.Vector) Entity {
	return Entity{ID: id, Size: size, Position: position, Velocity: velocity}
}

// nextVelocity applies force (per unit mass) over dt seconds.
func (e Entity) nextVelocity(force geom.Vector, dt float64) geom.Vector {
	return e.Velocity.Add(force.Scale(dt))
}

func (e Entity) nextPosition(velocity geom.Vector, dt float64) geom.Vector {
	return e.Position.Add(velocity.Scale(dt))
}

// Collides reports whether the hitboxes of e and o overlap.
func (e Entity) Collides(o Entity) bool {
	return geom.Overlaps(e.Position, e.Size, o.Position, o.Size)
}
