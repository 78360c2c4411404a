// Package lifecycle is the game's state machine. Transitions are fixed;
// components hook into them with AddHandler.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrInvalidTransition is returned for an action the current state does
// not allow, or a handler registered on a transition that does not exist.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

type State int

const (
	StateInit State = iota
	StateConfig
	StateRunning
	StatePaused
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConfig:
		return "config"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

type Action int

const (
	ActionConfig Action = iota
	ActionStart
	ActionPause
	ActionResume
	ActionStop
	ActionGameOver
)

var actionNames = map[Action]string{
	ActionConfig:   "config",
	ActionStart:    "start",
	ActionPause:    "pause",
	ActionResume:   "resume",
	ActionStop:     "stop",
	ActionGameOver: "gameover",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(a))
}

// ParseAction accepts the names printed by Action.String, in any case.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, n := range actionNames {
		if n == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle action %q", s)
}

type edge struct {
	from   State
	action Action
}

var transitions = map[edge]State{
	{StateInit, ActionConfig}:      StateConfig,
	{StateDone, ActionConfig}:      StateConfig,
	{StateConfig, ActionStart}:     StateRunning,
	{StateRunning, ActionPause}:    StatePaused,
	{StatePaused, ActionResume}:    StateRunning,
	{StateRunning, ActionStop}:     StateInit,
	{StatePaused, ActionStop}:      StateInit,
	{StateRunning, ActionGameOver}: StateDone,
}

// Handler runs during a transition. An error aborts the transition and
// leaves the state unchanged; handlers after the failing one do not run.
type Handler func() error

type Controller struct {
	mu       sync.Mutex // held for the whole of Apply
	state    State
	handlers map[edge][]Handler
	log      *zap.Logger
}

func New(log *zap.Logger) *Controller {
	return &Controller{
		state:    StateInit,
		handlers: make(map[edge][]Handler),
		log:      log,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AddHandler registers fn for the transition from --action--> to. Handlers
// run in registration order.
func (c *Controller) AddHandler(from State, action Action, to State, fn Handler) error {
	e := edge{from, action}
	if got, ok := transitions[e]; !ok || got != to {
		return fmt.Errorf("%w: %s --%s--> %s", ErrInvalidTransition, from, action, to)
	}
	c.mu.Lock()
	c.handlers[e] = append(c.handlers[e], fn)
	c.mu.Unlock()
	return nil
}

// Apply performs action from the current state. Handlers must not call
// Apply.
func (c *Controller) Apply(action Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := edge{c.state, action}
	to, ok := transitions[e]
	if !ok {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, action, c.state)
	}
	for _, fn := range c.handlers[e] {
		if err := fn(); err != nil {
			c.log.Error("lifecycle transition aborted",
				zap.String("from", c.state.String()),
				zap.String("action", action.String()),
				zap.Error(err),
			)
			return fmt.Errorf("%s --%s--> %s: %w", c.state, action, to, err)
		}
	}
	c.log.Info("lifecycle transition",
		zap.String("from", c.state.String()),
		zap.String("action", action.String()),
		zap.String("to", to.String()),
	)
	c.state = to
	return nil
}
