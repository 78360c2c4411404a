package handler

import (
	"github.com/dronearena/server/internal/lifecycle"
	"github.com/dronearena/server/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// HandleLifecycle drives the lifecycle controller. When a control password
// is configured the message token must match its bcrypt hash.
func HandleLifecycle(m protocol.LifecycleMessage, deps *Deps) {
	action, err := lifecycle.ParseAction(m.Action)
	if err != nil {
		deps.Log.Warn("dropped lifecycle message", zap.Error(err))
		return
	}
	if hash := deps.Config.Control.PasswordHash; hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(m.Token)); err != nil {
			deps.Log.Warn("lifecycle message rejected",
				zap.String("action", action.String()),
				zap.Error(err),
			)
			return
		}
	}
	if err := deps.Lifecycle.Apply(action); err != nil {
		deps.Log.Warn("lifecycle action failed",
			zap.String("action", action.String()),
			zap.String("state", deps.Lifecycle.State().String()),
			zap.Error(err),
		)
	}
}
