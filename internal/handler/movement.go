package handler

import (
	"github.com/dronearena/server/internal/protocol"
)

// HandleMovement applies a drone's new direction and acceleration. Either
// may be absent. A new acceleration cancels steering toward a target.
func HandleMovement(m protocol.MovementMessage, deps *Deps) {
	id, ok := resolve(deps, m.Kind(), m.Identifier)
	if !ok {
		return
	}
	if m.Direction != nil {
		deps.Driver.SetDirection(id, *m.Direction)
	}
	if m.Acceleration != nil {
		deps.Driver.SetAcceleration(id, *m.Acceleration)
	}
}

// HandleTargetMoveLocation makes a drone steer toward a point, or stop
// steering when the target is absent.
func HandleTargetMoveLocation(m protocol.TargetMoveLocationMessage, deps *Deps) {
	id, ok := resolve(deps, m.Kind(), m.Identifier)
	if !ok {
		return
	}
	deps.Driver.SetTarget(id, m.Target)
}
