package handler

import (
	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/engine/driver"
	"github.com/dronearena/server/internal/lifecycle"
	"github.com/dronearena/server/internal/protocol"
	"github.com/dronearena/server/internal/pubsub"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all message handlers.
type Deps struct {
	Config    *config.Config
	Log       *zap.Logger
	Driver    *driver.Driver
	Lifecycle *lifecycle.Controller
}

// RegisterAll registers a handler for every inbound message kind.
func RegisterAll(sub pubsub.Subscriber, deps *Deps) {
	sub.AddHandler(protocol.KindMovement, pubsub.HandlerFunc(func(msg protocol.Message) {
		if m, ok := msg.(protocol.MovementMessage); ok {
			HandleMovement(m, deps)
		}
	}))
	sub.AddHandler(protocol.KindFireBullet, pubsub.HandlerFunc(func(msg protocol.Message) {
		if m, ok := msg.(protocol.FireBulletMessage); ok {
			HandleFireBullet(m, deps)
		}
	}))
	sub.AddHandler(protocol.KindTargetMoveLocation, pubsub.HandlerFunc(func(msg protocol.Message) {
		if m, ok := msg.(protocol.TargetMoveLocationMessage); ok {
			HandleTargetMoveLocation(m, deps)
		}
	}))
	sub.AddHandler(protocol.KindKill, pubsub.HandlerFunc(func(msg protocol.Message) {
		if m, ok := msg.(protocol.KillMessage); ok {
			HandleKill(m, deps)
		}
	}))
	sub.AddHandler(protocol.KindLifecycle, pubsub.HandlerFunc(func(msg protocol.Message) {
		if m, ok := msg.(protocol.LifecycleMessage); ok {
			HandleLifecycle(m, deps)
		}
	}))
}

// resolve maps a protocol identity to an engine id, logging unknown ones.
func resolve(deps *Deps, kind protocol.Kind, protocolID string) (int, bool) {
	id, ok := deps.Driver.Resolve(protocolID)
	if !ok {
		deps.Log.Warn("dropped message for unknown entity",
			zap.String("kind", kind.String()),
			zap.String("protocol_id", protocolID),
		)
	}
	return id, ok
}
