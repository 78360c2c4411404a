package handler

import (
	"github.com/dronearena/server/internal/protocol"
	"go.uber.org/zap"
)

// HandleKill removes an entity on request. The removal is announced through
// the rule chain like any other.
func HandleKill(m protocol.KillMessage, deps *Deps) {
	// The engine's own kill broadcasts arrive here too, after the entity
	// is gone.
	id, ok := deps.Driver.Resolve(m.Identifier)
	if !ok {
		deps.Log.Debug("kill for unknown entity", zap.String("protocol_id", m.Identifier))
		return
	}
	if ev, ok := deps.Driver.Remove(id); ok {
		deps.Driver.Post(ev)
	}
}
