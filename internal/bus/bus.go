package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus connects channel adapters to the gateway. Adapters push
// received messages into Inbound; the gateway pushes replies into Outbound,
// and DispatchOutbound fans them out to the adapter subscribed under the
// matching channel name.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the delivery function for a channel name.
// A second subscription under the same name replaces the first.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

// PublishInbound hands a received message to the gateway, dropping it if
// the context is cancelled before the bus accepts it.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) {
	select {
	case b.Inbound <- msg:
	case <-ctx.Done():
	}
}

// PublishOutbound queues a reply for delivery.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) {
	select {
	case b.Outbound <- msg:
	case <-ctx.Done():
	}
}

// DispatchOutbound routes queued replies to their channel's subscriber
// until the context is cancelled. Run it in its own goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn, ok := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				log.Printf("[bus] no subscriber for channel %q, dropping message", msg.Channel)
				continue
			}
			fn(msg)
		}
	}
}
