package handler

import (
	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/engine/gamestate"
	"github.com/dronearena/server/internal/protocol"
	"go.uber.org/zap"
)

// HandleFireBullet inserts a bullet owned by the firing drone.
func HandleFireBullet(m protocol.FireBulletMessage, deps *Deps) {
	owner, ok := resolve(deps, m.Kind(), m.FiredByID)
	if !ok {
		return
	}
	if m.Damage < 0 {
		deps.Log.Warn("dropped bullet with negative damage",
			zap.String("protocol_id", m.Identifier),
			zap.Int("damage", m.Damage),
		)
		return
	}
	bullet := gamestate.GameEntity{
		Kind:         gamestate.KindBullet,
		Size:         geom.Cube(deps.Config.Rules.BulletSize),
		Position:     m.Position,
		Velocity:     m.Velocity,
		Acceleration: m.Acceleration,
		Direction:    m.Direction,
		OwnerID:      owner,
		Damage:       m.Damage,
	}
	if _, err := deps.Driver.Spawn(bullet, m.Identifier); err != nil {
		deps.Log.Warn("dropped bullet",
			zap.String("protocol_id", m.Identifier),
			zap.String("fired_by", m.FiredByID),
			zap.Error(err),
		)
	}
}
