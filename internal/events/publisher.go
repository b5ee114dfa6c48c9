package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/convohq/convo/internal/cache"
	"github.com/convohq/convo/internal/ws"
)

// DefaultTopic is the pub/sub channel other instances subscribe to for
// cross-instance fan-out.
const DefaultTopic = "discuss:events"

const publishTimeout = 2 * time.Second

// Publisher mirrors hub events onto a pub/sub topic. Publishing is
// fire-and-forget on a goroutine; a lost event costs one stale client
// until its next reconnect, so failures are only logged.
type Publisher struct {
	kv     cache.KV
	topic  string
	logger *zap.Logger
}

func NewPublisher(kv cache.KV, topic string, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		kv:     kv,
		topic:  topic,
		logger: logger.Named("events"),
	}
}

// PublishEvent serializes and emits the event without blocking the
// caller.
func (p *Publisher) PublishEvent(_ context.Context, event ws.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("event not serializable",
			zap.String("event", string(event.Type)), zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.kv.Publish(ctx, p.topic, string(payload)); err != nil {
			p.logger.Warn("event not published",
				zap.String("event", string(event.Type)), zap.Error(err))
		}
	}()
}
