// Package gameevent defines the events that flow from the physics stepper
// through the rule chain, and their translation to wire messages.
package gameevent

import (
	"fmt"
	"time"

	"github.com/dronearena/server/internal/engine/gamestate"
	"github.com/dronearena/server/internal/protocol"
)

// Resolver maps engine ids to protocol identities.
type Resolver interface {
	ProtocolID(id int) (string, bool)
}

// Event is one unit of work for the rule chain.
type Event interface {
	// ProtocolMessages converts the event to outbound messages. Entities
	// that no longer have a protocol identity are left out.
	ProtocolMessages(r Resolver) []protocol.Message
}

// Participant is one side of a collision. ProtocolID is captured when the
// event is created; if empty it is resolved on conversion.
type Participant struct {
	ID         int
	Kind       gamestate.Kind
	ProtocolID string
}

func identity(r Resolver, id int, captured string) (string, bool) {
	if captured != "" {
		return captured, true
	}
	return r.ProtocolID(id)
}

type CollisionStart struct {
	A, B Participant // A.ID < B.ID
}

func (e CollisionStart) ProtocolMessages(r Resolver) []protocol.Message {
	a, okA := identity(r, e.A.ID, e.A.ProtocolID)
	b, okB := identity(r, e.B.ID, e.B.ProtocolID)
	if !okA || !okB {
		return nil
	}
	return []protocol.Message{protocol.CollisionMessage{
		Identifier1: a, Type1: e.A.Kind.EntityType(),
		Identifier2: b, Type2: e.B.Kind.EntityType(),
	}}
}

// Involves returns the participant of kind k, preferring A.
func (e CollisionStart) Involves(k gamestate.Kind) (Participant, Participant, bool) {
	switch {
	case e.A.Kind == k:
		return e.A, e.B, true
	case e.B.Kind == k:
		return e.B, e.A, true
	}
	return Participant{}, Participant{}, false
}

// CollisionEnd has no wire form.
type CollisionEnd struct {
	A, B Participant
}

func (CollisionEnd) ProtocolMessages(Resolver) []protocol.Message { return nil }

// CurrentState is a snapshot of every entity the stepper reported.
type CurrentState struct {
	At       time.Time
	Entities []gamestate.GameEntity
}

func (e CurrentState) ProtocolMessages(r Resolver) []protocol.Message {
	out := make([]protocol.Message, 0, len(e.Entities))
	for _, ent := range e.Entities {
		pid, ok := identity(r, ent.ID, ent.ProtocolID)
		if !ok {
			continue
		}
		out = append(out, protocol.StateMessage{
			Identifier:   pid,
			Type:         ent.Kind.EntityType(),
			Position:     ent.Position,
			Velocity:     ent.Velocity,
			Acceleration: ent.Acceleration,
			Direction:    ent.Direction,
			HP:           ent.HP,
			Team:         ent.Team,
		})
	}
	return out
}

// Destroyed reports a removed entity. ProtocolID is captured at removal
// time since the mapping is gone by the time the event is published.
type Destroyed struct {
	ID         int
	Kind       gamestate.Kind
	ProtocolID string
}

func (e Destroyed) ProtocolMessages(Resolver) []protocol.Message {
	if e.ProtocolID == "" {
		return nil
	}
	return []protocol.Message{protocol.KillMessage{
		Identifier: e.ProtocolID,
		EntityType: e.Kind.EntityType(),
	}}
}

type Damaged struct {
	ID         int
	Kind       gamestate.Kind
	ProtocolID string
	Damage     int
	HP         int
}

func (e Damaged) ProtocolMessages(r Resolver) []protocol.Message {
	pid, ok := identity(r, e.ID, e.ProtocolID)
	if !ok {
		return nil
	}
	return []protocol.Message{protocol.DamageMessage{
		Identifier: pid,
		EntityType: e.Kind.EntityType(),
		Damage:     e.Damage,
		HP:         e.HP,
	}}
}

// GameFinished names the winner: a drone identity or a team. Empty means
// nobody survived.
type GameFinished struct {
	Winner string
	Mode   string
}

func (e GameFinished) ProtocolMessages(Resolver) []protocol.Message {
	return []protocol.Message{protocol.GameFinishedMessage{Winner: e.Winner, Mode: e.Mode}}
}

// IntervalTick drives the periodic rule chain.
type IntervalTick struct {
	At time.Time
}

func (IntervalTick) ProtocolMessages(Resolver) []protocol.Message { return nil }

// Name is a short label for logging.
func Name(e Event) string {
	switch e.(type) {
	case CollisionStart:
		return "collision_start"
	case CollisionEnd:
		return "collision_end"
	case CurrentState:
		return "current_state"
	case Destroyed:
		return "destroyed"
	case Damaged:
		return "damaged"
	case GameFinished:
		return "game_finished"
	case IntervalTick:
		return "interval_tick"
	}
	return fmt.Sprintf("%T", e)
}
