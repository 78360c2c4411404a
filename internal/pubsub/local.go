package pubsub

import (
	"sync"

	"github.com/dronearena/server/internal/protocol"
	"go.uber.org/zap"
)

// Local is an in-process bus: published messages are dispatched
// synchronously to the local registry and recorded per topic.
type Local struct {
	*Registry

	mu        sync.Mutex
	published map[protocol.Topic][]protocol.Message
}

func NewLocal(log *zap.Logger) *Local {
	return &Local{
		Registry:  NewRegistry(log),
		published: make(map[protocol.Topic][]protocol.Message),
	}
}

func (l *Local) Publish(topic protocol.Topic, msg protocol.Message) error {
	l.mu.Lock()
	l.published[topic] = append(l.published[topic], msg)
	l.mu.Unlock()
	if msg.Topic() != topic {
		return nil
	}
	return l.Dispatch(msg)
}

// Published returns a copy of everything published on topic so far.
func (l *Local) Published(topic protocol.Topic) []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Message(nil), l.published[topic]...)
}
