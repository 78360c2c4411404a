package pubsub

import (
	"fmt"
	"sync"

	"github.com/dronearena/server/internal/protocol"
	"go.uber.org/zap"
)

// Registry maps message kinds to handlers and filters by subscribed topic.
// Transports embed it to implement Subscriber.
type Registry struct {
	mu       sync.RWMutex
	handlers map[protocol.Kind]Handler
	topics   map[protocol.Topic]bool
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[protocol.Kind]Handler),
		topics:   make(map[protocol.Topic]bool),
		log:      log,
	}
}

func (reg *Registry) AddTopic(topic protocol.Topic) error {
	if topic == "" {
		return fmt.Errorf("empty topic")
	}
	reg.mu.Lock()
	reg.topics[topic] = true
	reg.mu.Unlock()
	return nil
}

// Subscribed reports whether topic was added.
func (reg *Registry) Subscribed(topic protocol.Topic) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.topics[topic]
}

// AddHandler maps kind to h, replacing any earlier handler.
func (reg *Registry) AddHandler(kind protocol.Kind, h Handler) {
	reg.mu.Lock()
	reg.handlers[kind] = h
	reg.mu.Unlock()
}

// Dispatch hands msg to its kind's handler. Messages on unsubscribed topics
// and kinds without a handler are ignored. A panicking handler is recovered
// and reported as an error.
func (reg *Registry) Dispatch(msg protocol.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	kind := msg.Kind()

	reg.mu.RLock()
	h, ok := reg.handlers[kind]
	subscribed := reg.topics[msg.Topic()]
	reg.mu.RUnlock()

	if !subscribed {
		reg.log.Debug("message on unsubscribed topic",
			zap.String("kind", kind.String()),
			zap.String("topic", string(msg.Topic())),
		)
		return nil
	}
	if !ok {
		reg.log.Debug("no handler for message", zap.String("kind", kind.String()))
		return nil
	}
	return reg.safeCall(h, msg)
}

// safeCall executes a handler with panic recovery so one bad message cannot
// take down the dispatch goroutine.
func (reg *Registry) safeCall(h Handler, msg protocol.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.String("kind", msg.Kind().String()),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for %s: %v", msg.Kind(), rec)
		}
	}()
	h.Handle(msg)
	return nil
}
