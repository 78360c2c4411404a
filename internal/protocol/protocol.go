package protocol

import (
	"fmt"

	"github.com/dronearena/server/internal/core/geom"
)

// Topic names a message channel on the bus.
type Topic string

const (
	TopicMovements    Topic = "movements"
	TopicStateUpdates Topic = "stateupdates"
	TopicArchitecture Topic = "architecture"
)

// Kind identifies a message type on the wire. Byte 0 of every encoded
// message.
type Kind byte

const (
	KindSubscribe Kind = iota + 1
	KindMovement
	KindFireBullet
	KindTargetMoveLocation
	KindKill
	KindState
	KindCollision
	KindDamage
	KindGameFinished
	KindLifecycle
)

func (k Kind) String() string {
	switch k {
	case KindSubscribe:
		return "subscribe"
	case KindMovement:
		return "movement"
	case KindFireBullet:
		return "fire_bullet"
	case KindTargetMoveLocation:
		return "target_move_location"
	case KindKill:
		return "kill"
	case KindState:
		return "state"
	case KindCollision:
		return "collision"
	case KindDamage:
		return "damage"
	case KindGameFinished:
		return "game_finished"
	case KindLifecycle:
		return "lifecycle"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// EntityType is the shared name of an entity kind.
type EntityType string

const (
	EntityDrone    EntityType = "drone"
	EntityBullet   EntityType = "bullet"
	EntityObstacle EntityType = "obstacle"
)

// Message is any value carried on the bus.
type Message interface {
	Kind() Kind
	Topic() Topic
}

// SubscribeMessage asks the transport to deliver a topic to the sender.
type SubscribeMessage struct {
	Name Topic `msgpack:"topic" json:"topic"`
}

func (SubscribeMessage) Kind() Kind   { return KindSubscribe }
func (SubscribeMessage) Topic() Topic { return "" }

// MovementMessage changes a drone's direction and/or acceleration.
type MovementMessage struct {
	Identifier   string       `msgpack:"id" json:"id"`
	Direction    *geom.Polar  `msgpack:"direction,omitempty" json:"direction,omitempty"`
	Acceleration *geom.Vector `msgpack:"acceleration,omitempty" json:"acceleration,omitempty"`
}

func (MovementMessage) Kind() Kind   { return KindMovement }
func (MovementMessage) Topic() Topic { return TopicMovements }

// FireBulletMessage creates a bullet owned by FiredByID.
type FireBulletMessage struct {
	Identifier   string      `msgpack:"id" json:"id"`
	FiredByID    string      `msgpack:"fired_by" json:"fired_by"`
	Damage       int         `msgpack:"damage" json:"damage"`
	Position     geom.Vector `msgpack:"position" json:"position"`
	Velocity     geom.Vector `msgpack:"velocity" json:"velocity"`
	Acceleration geom.Vector `msgpack:"acceleration" json:"acceleration"`
	Direction    geom.Polar  `msgpack:"direction" json:"direction"`
}

func (FireBulletMessage) Kind() Kind   { return KindFireBullet }
func (FireBulletMessage) Topic() Topic { return TopicMovements }

// TargetMoveLocationMessage steers a drone toward a point. A nil target
// clears the steering.
type TargetMoveLocationMessage struct {
	Identifier string       `msgpack:"id" json:"id"`
	Target     *geom.Vector `msgpack:"target,omitempty" json:"target,omitempty"`
}

func (TargetMoveLocationMessage) Kind() Kind   { return KindTargetMoveLocation }
func (TargetMoveLocationMessage) Topic() Topic { return TopicMovements }

// KillMessage announces (outbound) or requests (inbound) removal of an
// entity.
type KillMessage struct {
	Identifier string     `msgpack:"id" json:"id"`
	EntityType EntityType `msgpack:"type" json:"type"`
}

func (KillMessage) Kind() Kind   { return KindKill }
func (KillMessage) Topic() Topic { return TopicStateUpdates }

// StateMessage is the broadcast state of one entity.
type StateMessage struct {
	Identifier   string      `msgpack:"id" json:"id"`
	Type         EntityType  `msgpack:"type" json:"type"`
	Position     geom.Vector `msgpack:"position" json:"position"`
	Velocity     geom.Vector `msgpack:"velocity" json:"velocity"`
	Acceleration geom.Vector `msgpack:"acceleration" json:"acceleration"`
	Direction    geom.Polar  `msgpack:"direction" json:"direction"`
	HP           int         `msgpack:"hp" json:"hp"`
	Team         string      `msgpack:"team,omitempty" json:"team,omitempty"`
}

func (StateMessage) Kind() Kind   { return KindState }
func (StateMessage) Topic() Topic { return TopicStateUpdates }

// CollisionMessage announces the start of a collision.
type CollisionMessage struct {
	Identifier1 string     `msgpack:"id1" json:"id1"`
	Type1       EntityType `msgpack:"type1" json:"type1"`
	Identifier2 string     `msgpack:"id2" json:"id2"`
	Type2       EntityType `msgpack:"type2" json:"type2"`
}

func (CollisionMessage) Kind() Kind   { return KindCollision }
func (CollisionMessage) Topic() Topic { return TopicStateUpdates }

// DamageMessage announces damage dealt to an entity and its remaining HP.
type DamageMessage struct {
	Identifier string     `msgpack:"id" json:"id"`
	EntityType EntityType `msgpack:"type" json:"type"`
	Damage     int        `msgpack:"damage" json:"damage"`
	HP         int        `msgpack:"hp" json:"hp"`
}

func (DamageMessage) Kind() Kind   { return KindDamage }
func (DamageMessage) Topic() Topic { return TopicStateUpdates }

// GameFinishedMessage announces the winner of a game: a drone identity in
// deathmatch, a team name in teamplay. Empty when nobody is left.
type GameFinishedMessage struct {
	Winner string `msgpack:"winner" json:"winner"`
	Mode   string `msgpack:"mode" json:"mode"`
}

func (GameFinishedMessage) Kind() Kind   { return KindGameFinished }
func (GameFinishedMessage) Topic() Topic { return TopicStateUpdates }

// LifecycleMessage requests a lifecycle transition ("config", "start",
// "pause", "resume", "stop", "gameover"). Token is checked when the engine
// has a control password configured.
type LifecycleMessage struct {
	Action string `msgpack:"action" json:"action"`
	Token  string `msgpack:"token,omitempty" json:"token,omitempty"`
}

func (LifecycleMessage) Kind() Kind   { return KindLifecycle }
func (LifecycleMessage) Topic() Topic { return TopicArchitecture }
