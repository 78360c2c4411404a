package gamestate

import (
	"time"

	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/physics"
	"github.com/dronearena/server/internal/protocol"
)

// Kind tags the variant of a GameEntity.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindDrone
	KindBullet
	KindObstacle
)

func (k Kind) String() string {
	return string(k.EntityType())
}

// EntityType is the wire name of k.
func (k Kind) EntityType() protocol.EntityType {
	switch k {
	case KindDrone:
		return protocol.EntityDrone
	case KindBullet:
		return protocol.EntityBullet
	case KindObstacle:
		return protocol.EntityObstacle
	default:
		return "unknown"
	}
}

// GameEntity is the game-level view of a simulated entity. Which fields
// carry meaning depends on Kind: HP and Team for drones, OwnerID and Damage
// for bullets.
type GameEntity struct {
	ID         int
	ProtocolID string
	Kind       Kind
	Size       geom.Size

	Position     geom.Vector
	Velocity     geom.Vector
	Acceleration geom.Vector
	Direction    geom.Polar

	HP   int
	Team string

	OwnerID int
	Damage  int

	// Target is the point a drone is steering toward, if any.
	Target *geom.Vector

	SpawnedAt time.Time
	LastSeen  time.Time // time of the last snapshot that contained the entity
}

// HasHealth reports whether the entity can take damage.
func (e *GameEntity) HasHealth() bool {
	return e.Kind == KindDrone
}

// TakeDamage subtracts d from HP without clamping. Entities without health
// are unaffected. Returns the remaining HP.
func (e *GameEntity) TakeDamage(d int) int {
	if e.HasHealth() {
		e.HP -= d
	}
	return e.HP
}

// Alive reports whether a health-bearing entity still has HP left.
func (e *GameEntity) Alive() bool {
	return !e.HasHealth() || e.HP > 0
}

// Physics returns the physics entity with the same id and kinematics.
func (e *GameEntity) Physics() physics.Entity {
	p := physics.NewEntity(e.ID, e.Size, e.Position, e.Velocity)
	p.Acceleration = e.Acceleration
	return p
}

// merge copies the kinematic state of p.
func (e *GameEntity) merge(p physics.Entity, seen time.Time) {
	e.Position = p.Position
	e.Velocity = p.Velocity
	e.Acceleration = p.Acceleration
	e.LastSeen = seen
}
