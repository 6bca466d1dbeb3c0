package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/cropsight/platform/pkg/common/kafka"
	"github.com/cropsight/platform/pkg/common/logger"
	"github.com/cropsight/platform/pkg/common/models"
)

const EventInvalidate = "cache.invalidate"

type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Consumer interface {
	Consume(ctx context.Context, handler kafka.EventHandler) error
}

// Broadcaster announces invalidations to the other nodes.
type Broadcaster struct {
	publisher Publisher
	source    string
}

func NewBroadcaster(publisher Publisher, source string) *Broadcaster {
	return &Broadcaster{publisher: publisher, source: source}
}

func (b *Broadcaster) Invalidate(ctx context.Context, path string) error {
	if err := b.publisher.PublishEvent(ctx, EventInvalidate, b.source, map[string]interface{}{"path": path}); err != nil {
		return fmt.Errorf("broadcast invalidation of %s: %w", path, err)
	}
	return nil
}

// HandleEvent applies a broadcast invalidation to local. Events of other
// types are ignored.
func HandleEvent(ctx context.Context, local Invalidator, event models.Event) error {
	if event.Type != EventInvalidate {
		return nil
	}
	path, _ := event.Data["path"].(string)
	if path == "" {
		logger.Log.WithField("event_id", event.ID).Warn("Invalidation event without path")
		return nil
	}
	return local.Invalidate(ctx, path)
}

// Listen consumes broadcast invalidations until ctx is done.
func Listen(ctx context.Context, consumer Consumer, local Invalidator) error {
	err := consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
		return HandleEvent(ctx, local, event)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
