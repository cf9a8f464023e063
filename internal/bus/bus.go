package bus

import (
	"context"
	"sync"
)

// MessageBus is the concrete pub/sub plumbing connecting channels to
// the router and the router's event stream to gateway clients. One
// instance is constructed at daemon start and shared by reference —
// never a package-level singleton.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	subMu sync.RWMutex
	subs  map[string]EventHandler
}

var (
	_ EventPublisher = (*MessageBus)(nil)
	_ MessageRouter  = (*MessageBus)(nil)
)

// New creates a MessageBus with the given channel buffer capacity.
func New(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = 256
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, capacity),
		outbound: make(chan OutboundMessage, capacity),
		subs:     make(map[string]EventHandler),
	}
}

// PublishInbound enqueues msg for the router to consume. Non-blocking
// up to the buffer; callers on a full bus block, exerting backpressure
// on the originating channel's read loop.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues msg for channel dispatch.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// SubscribeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers handler under id to receive every Broadcast event.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subs[id] = handler
}

// Unsubscribe removes a previously registered handler.
func (b *MessageBus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subs, id)
}

// Broadcast fans event out to every subscriber. Handlers run
// synchronously on the caller's goroutine; subscribers that need to
// avoid blocking the publisher should hand off internally (e.g. the
// gateway's per-client write goroutine).
func (b *MessageBus) Broadcast(event Event) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, handler := range b.subs {
		handler(event)
	}
}

// SubscriberCount reports how many handlers are currently registered,
// used by the Heartbeat's ConnectedClients gauge.
func (b *MessageBus) SubscriberCount() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subs)
}
