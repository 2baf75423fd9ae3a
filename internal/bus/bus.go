package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docbot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus for in-process communication.
type InMemoryBus struct {
	inbound  chan domain.InboundEvent
	handlers map[string]domain.ReplyHandler
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundEvent, bufferSize),
		handlers: make(map[string]domain.ReplyHandler),
		logger:   logger,
	}
}

// Publish blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(event domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "event_id", event.ID)
		return
	}

	select {
	case b.inbound <- event:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", event.Channel, "sender", event.SenderID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- event:
			b.logger.Info("event delivered after wait", "channel", event.Channel)
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s",
				"channel", event.Channel,
				"sender", event.SenderID,
				"event_id", event.ID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

// SendOutbound delivers a reply through the handler registered for its channel.
func (b *InMemoryBus) SendOutbound(ctx context.Context, reply domain.OutboundReply) error {
	b.mu.RLock()
	handler, ok := b.handlers[reply.Channel]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no handler registered for channel %q", reply.Channel)
	}
	return handler(ctx, reply)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler domain.ReplyHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
