// Package pubsub defines the messaging contracts the engine depends on and
// small in-process implementations of them.
package pubsub

import (
	"errors"

	"github.com/dronearena/server/internal/protocol"
)

// Handler consumes one inbound message.
type Handler interface {
	Handle(msg protocol.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg protocol.Message)

func (f HandlerFunc) Handle(msg protocol.Message) { f(msg) }

// Publisher sends a message to every listener of a topic.
type Publisher interface {
	Publish(topic protocol.Topic, msg protocol.Message) error
}

// Subscriber delivers inbound messages of subscribed topics to the handler
// registered for their kind.
type Subscriber interface {
	AddTopic(topic protocol.Topic) error
	AddHandler(kind protocol.Kind, h Handler)
}

// Fanout publishes to several publishers. Every publisher is tried; errors
// are joined.
type Fanout []Publisher

func (f Fanout) Publish(topic protocol.Topic, msg protocol.Message) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(topic, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
