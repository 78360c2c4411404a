package rules

import (
	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/engine/gameevent"
	"github.com/dronearena/server/internal/pubsub"
	"go.uber.org/zap"
)

// SendMessages publishes every event of the batch. It ends every chain.
// Publish failures are logged and the message is dropped.
type SendMessages struct {
	resolver gameevent.Resolver
	pub      pubsub.Publisher
	log      *zap.Logger
}

func NewSendMessages(r gameevent.Resolver, pub pubsub.Publisher, log *zap.Logger) *SendMessages {
	return &SendMessages{resolver: r, pub: pub, log: log}
}

func (r *SendMessages) Configure(config.Settings) {}

func (r *SendMessages) Process(batch []gameevent.Event) []gameevent.Event {
	for _, ev := range batch {
		for _, msg := range ev.ProtocolMessages(r.resolver) {
			if err := r.pub.Publish(msg.Topic(), msg); err != nil {
				r.log.Warn("publish failed",
					zap.String("kind", msg.Kind().String()),
					zap.String("event", gameevent.Name(ev)),
					zap.Error(err),
				)
			}
		}
	}
	return batch
}
