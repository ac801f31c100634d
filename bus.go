package chatsync

import "sync"

// Topic is a realtime event channel on the EventBus. Topics form a closed
// set shared by the connection and every consumer, so a typo cannot silently
// drop events.
type Topic string

const (
	TopicConnected       Topic = "connected"
	TopicDisconnected    Topic = "disconnected"
	TopicError           Topic = "error"
	TopicNewMessage      Topic = "new_message"
	TopicMessagesRead    Topic = "messages_read"
	TopicUserTyping      Topic = "user_typing"
	TopicUserStatus      Topic = "user_status"
	TopicNewConversation Topic = "new_conversation"
)

// Handler receives every payload emitted on a subscribed topic.
type Handler func(payload any)

// Subscription identifies one registered handler so it can be removed.
// Surfaces own their subscriptions: whoever calls On is responsible for the
// matching Off when it unmounts.
type Subscription struct {
	topic Topic
	fn    Handler
}

// EventBus fans inbound events out to any number of registered handlers.
// It holds no business state.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[Topic][]*Subscription
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[Topic][]*Subscription)}
}

// On registers fn under topic. Handlers run in registration order.
func (b *EventBus) On(topic Topic, fn Handler) *Subscription {
	sub := &Subscription{topic: topic, fn: fn}
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], sub)
	b.mu.Unlock()
	return sub
}

// Off removes sub. Removing an unknown or already-removed subscription is a
// no-op.
func (b *EventBus) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.handlers[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit synchronously invokes every handler registered for topic. A panic in
// one handler must not prevent the rest from running.
func (b *EventBus) Emit(topic Topic, payload any) {
	b.mu.RLock()
	subs := append([]*Subscription{}, b.handlers[topic]...)
	b.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			s.fn(payload)
		}()
	}
}

// HandlerCount reports how many handlers are registered for topic.
func (b *EventBus) HandlerCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
