package pubsub

import (
	"errors"
	"testing"

	"github.com/dronearena/server/internal/protocol"
	"go.uber.org/zap"
)

func TestRegistryFiltersByTopic(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	var got []protocol.Message
	reg.AddHandler(protocol.KindKill, HandlerFunc(func(m protocol.Message) { got = append(got, m) }))

	kill := protocol.KillMessage{Identifier: "a"}
	if err := reg.Dispatch(kill); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatal("delivered before topic was added")
	}

	if err := reg.AddTopic(protocol.TopicStateUpdates); err != nil {
		t.Fatal(err)
	}
	if err := reg.Dispatch(kill); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != kill {
		t.Fatalf("got %v", got)
	}
}

func TestRegistryRecoversPanics(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_ = reg.AddTopic(protocol.TopicArchitecture)
	reg.AddHandler(protocol.KindLifecycle, HandlerFunc(func(protocol.Message) { panic("boom") }))

	if err := reg.Dispatch(protocol.LifecycleMessage{Action: "start"}); err == nil {
		t.Fatal("panic not reported")
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(protocol.Topic, protocol.Message) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutTriesEveryPublisher(t *testing.T) {
	bad := &failingPublisher{}
	local := NewLocal(zap.NewNop())
	fan := Fanout{bad, nil, local}

	err := fan.Publish(protocol.TopicStateUpdates, protocol.KillMessage{Identifier: "x"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if bad.calls != 1 {
		t.Fatalf("failing publisher called %d times", bad.calls)
	}
	if n := len(local.Published(protocol.TopicStateUpdates)); n != 1 {
		t.Fatalf("local got %d messages", n)
	}
}
