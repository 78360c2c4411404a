package lifecycle

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestFullGameCycle(t *testing.T) {
	c := New(zap.NewNop())
	steps := []struct {
		action Action
		want   State
	}{
		{ActionConfig, StateConfig},
		{ActionStart, StateRunning},
		{ActionPause, StatePaused},
		{ActionResume, StateRunning},
		{ActionGameOver, StateDone},
		{ActionConfig, StateConfig},
		{ActionStart, StateRunning},
		{ActionStop, StateInit},
	}
	for _, s := range steps {
		if err := c.Apply(s.action); err != nil {
			t.Fatalf("%s: %v", s.action, err)
		}
		if got := c.State(); got != s.want {
			t.Fatalf("after %s state = %s, want %s", s.action, got, s.want)
		}
	}
}

func TestInvalidActionsRejected(t *testing.T) {
	c := New(zap.NewNop())
	for _, a := range []Action{ActionStart, ActionPause, ActionResume, ActionStop, ActionGameOver} {
		if err := c.Apply(a); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s from init: err = %v", a, err)
		}
	}
	if c.State() != StateInit {
		t.Fatal("state changed on rejected action")
	}
}

func TestHandlersRunInOrderAndCanAbort(t *testing.T) {
	c := New(zap.NewNop())
	var order []int
	mustAdd := func(from State, a Action, to State, fn Handler) {
		t.Helper()
		if err := c.AddHandler(from, a, to, fn); err != nil {
			t.Fatal(err)
		}
	}
	mustAdd(StateInit, ActionConfig, StateConfig, func() error { order = append(order, 1); return nil })
	mustAdd(StateInit, ActionConfig, StateConfig, func() error { order = append(order, 2); return nil })
	if err := c.Apply(ActionConfig); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v", order)
	}

	boom := errors.New("boom")
	mustAdd(StateConfig, ActionStart, StateRunning, func() error { return boom })
	if err := c.Apply(ActionStart); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if c.State() != StateConfig {
		t.Fatalf("state = %s after aborted transition", c.State())
	}
}

func TestAddHandlerRejectsUnknownEdge(t *testing.T) {
	c := New(zap.NewNop())
	err := c.AddHandler(StateInit, ActionStart, StateRunning, func() error { return nil })
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" GameOver ")
	if err != nil || a != ActionGameOver {
		t.Fatalf("ParseAction = %v, %v", a, err)
	}
	if _, err := ParseAction("explode"); err == nil {
		t.Fatal("unknown action accepted")
	}
}
