package physics

// Observer receives stepper events. Callbacks run synchronously on the
// stepper goroutine and must not block; implementations hand the event off
// (enqueue) and return.
type Observer interface {
	// CollisionStarted fires once when two hitboxes begin to overlap.
	// e1.ID < e2.ID always holds.
	CollisionStarted(e1, e2 Entity)
	// CollisionStopped fires once when an overlap ends, or when one of the
	// pair is removed while overlapping. e1.ID < e2.ID always holds.
	CollisionStopped(e1, e2 Entity)
	// StateBroadcast delivers a copy of every entity after a completed tick.
	StateBroadcast(state []Entity)
}
