// Package rules turns raw physics events into game outcomes. Rules are
// chained: each receives the previous rule's output batch and returns the
// batch for the next one. The last rule of every chain publishes.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/engine/gameevent"
	"github.com/dronearena/server/internal/engine/gamestate"
	"github.com/dronearena/server/internal/pubsub"
	"go.uber.org/zap"
)

// Rule is one stage of a chain. Process must return the events later stages
// should see, normally the input plus whatever the rule produced.
type Rule interface {
	Process(batch []gameevent.Event) []gameevent.Event
	Configure(s config.Settings)
}

// World is what rules may read and change.
type World interface {
	gameevent.Resolver
	State() *gamestate.Manager
	Remove(id int) (gameevent.Destroyed, bool)
	Now() time.Time
	// Playing reports whether the game clock runs. Victory is only
	// decided while it does.
	Playing() bool
}

// DamageFunc computes the damage a bullet deals to a target hit at time at.
type DamageFunc func(bullet, target gamestate.GameEntity, at time.Time) int

// RuleSet holds the two chains of a game mode.
type RuleSet struct {
	Main     []Rule
	Interval []Rule
}

// Rules returns every distinct rule of both chains.
func (rs RuleSet) Rules() []Rule {
	seen := make(map[Rule]bool)
	var out []Rule
	for _, chain := range [][]Rule{rs.Main, rs.Interval} {
		for _, r := range chain {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

func (rs RuleSet) validate() error {
	if len(rs.Main) == 0 || len(rs.Interval) == 0 {
		return errors.New("rule set needs a main and an interval chain")
	}
	for name, chain := range map[string][]Rule{"main": rs.Main, "interval": rs.Interval} {
		if _, ok := chain[len(chain)-1].(*SendMessages); !ok {
			return fmt.Errorf("%s chain must end with SendMessages, ends with %T", name, chain[len(chain)-1])
		}
	}
	return nil
}

// NewRuleSet builds the chains for mode. damage may be nil.
func NewRuleSet(mode config.GameMode, w World, pub pubsub.Publisher, damage DamageFunc, log *zap.Logger) (RuleSet, error) {
	send := NewSendMessages(w, pub, log)
	main := []Rule{
		NewKillOutOfBounds(w),
		NewCollisionRule(w, damage),
		NewKillEntitiesRule(w),
		NewRemoveStrayBullets(w),
		send,
	}

	var finished Rule
	switch mode {
	case config.ModeDeathmatch:
		finished = NewDeathmatchGameFinished(w)
	case config.ModeTeamplay:
		finished = NewTeamplayGameFinished(w)
	default:
		return RuleSet{}, fmt.Errorf("%w: %q", config.ErrUnknownGameMode, mode)
	}
	interval := []Rule{NewRemoveStaleStateData(w), finished, send}

	return RuleSet{Main: main, Interval: interval}, nil
}
