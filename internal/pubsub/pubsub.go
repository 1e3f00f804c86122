// Package pubsub is the change-stream shape shared by the durable and
// ephemeral store adapters.
package pubsub

import (
	"strings"
	"sync"
)

// Message is one change notification. Payload is the JSON encoding of the
// new value; it is nil when the value was removed.
type Message struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload,omitempty"`
}

// Subscription delivers messages on C until Close is called. Close is safe to
// call more than once.
type Subscription struct {
	C <-chan Message

	once  sync.Once
	close func()
}

func NewSubscription(c <-chan Message, closeFn func()) *Subscription {
	return &Subscription{C: c, close: closeFn}
}

func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.close != nil {
			s.close()
		}
	})
	return nil
}

// Match reports whether topic is selected by pattern. A trailing "*" matches
// any suffix.
func Match(pattern, topic string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}

// Broker is an in-process fan-out used by the in-memory stores. Slow
// subscribers lose messages rather than block publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	pattern string
	ch      chan Message
}

const subscriberBuffer = 64

func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscriber]struct{})}
}

func (b *Broker) Subscribe(pattern string) *Subscription {
	s := &subscriber{pattern: pattern, ch: make(chan Message, subscriberBuffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return NewSubscription(s.ch, func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	})
}

func (b *Broker) Publish(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		if !Match(s.pattern, m.Topic) {
			continue
		}
		select {
		case s.ch <- m:
		default:
		}
	}
}
