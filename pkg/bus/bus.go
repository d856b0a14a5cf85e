// Package bus moves raw notifications from transport adapters to the bot and
// outgoing messages back, and fans lifecycle events out to observers.
package bus

import (
	"context"
	"errors"
	"sync"

	"relaybot/pkg/event"
)

const defaultBufferSize = 100

// ErrClosed is returned by Send once the bus is closed or ctx ended.
var ErrClosed = errors.New("message bus closed")

type MessageBus struct {
	inbound  chan event.Raw
	outbound chan OutboundMessage

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:          make(chan event.Raw, defaultBufferSize),
		outbound:         make(chan OutboundMessage, defaultBufferSize),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// PublishInbound queues one notification from an adapter.
func (mb *MessageBus) PublishInbound(ctx context.Context, raw event.Raw) bool {
	return publish(ctx, mb.done, mb.inbound, raw)
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (event.Raw, bool) {
	return consume(ctx, mb.done, mb.inbound)
}

// PublishOutbound queues one outgoing message for its adapter.
func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	return publish(ctx, mb.done, mb.outbound, msg)
}

func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return consume(ctx, mb.done, mb.outbound)
}

// Send queues msg and reports a failure as an error.
func (mb *MessageBus) Send(ctx context.Context, msg OutboundMessage) error {
	if !mb.PublishOutbound(ctx, msg) {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrClosed
	}

	mb.PublishEvent(ctx, Event{
		Type:           EventMessageQueued,
		Channel:        msg.Channel,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
	})
	return nil
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}

func publish[T any](ctx context.Context, done <-chan struct{}, ch chan<- T, value T) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case ch <- value:
		return true
	}
}

func consume[T any](ctx context.Context, done <-chan struct{}, ch <-chan T) (T, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	var zero T
	select {
	case <-ctx.Done():
		return zero, false
	case <-done:
		return zero, false
	case value := <-ch:
		return value, true
	}
}
