// Package watch gives readers a scoped view of store changes. A Session owns
// every subscription it opens and releases all of them on Close.
package watch

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"github.com/rencelibrando/infoma-sub004/internal/pubsub"
)

// Source is anything that can stream changes for a topic pattern: the live
// store, the Postgres listener or the in-memory store.
type Source interface {
	Subscribe(ctx context.Context, pattern string) (*pubsub.Subscription, error)
}

// Feed names one subscription of a session.
type Feed struct {
	Name    string
	Source  Source
	Pattern string
}

type Event struct {
	Feed    string          `json:"feed"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var ErrClosed = errors.New("watch: session closed")

type Session struct {
	C <-chan Event

	subs   []*pubsub.Subscription
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	closed chan struct{}
}

// Open subscribes to every feed and merges them onto one channel. If any
// subscription fails, the ones already opened are closed.
func Open(ctx context.Context, feeds ...Feed) (*Session, error) {
	out := make(chan Event, 64)
	s := &Session{C: out, done: make(chan struct{}), closed: make(chan struct{})}

	for _, f := range feeds {
		sub, err := f.Source.Subscribe(ctx, f.Pattern)
		if err != nil {
			s.closeSubs()
			return nil, err
		}
		s.subs = append(s.subs, sub)
	}

	for i, f := range feeds {
		s.wg.Add(1)
		go s.forward(f.Name, s.subs[i], out)
	}
	go func() {
		s.wg.Wait()
		close(out)
		close(s.closed)
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *Session) forward(name string, sub *pubsub.Subscription, out chan<- Event) {
	defer s.wg.Done()
	for {
		select {
		case m, ok := <-sub.C:
			if !ok {
				return
			}
			ev := Event{Feed: name, Topic: m.Topic}
			if len(m.Payload) > 0 {
				ev.Payload = json.RawMessage(m.Payload)
			}
			select {
			case out <- ev:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close releases every subscription and waits until C is closed.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.closeSubs()
	})
	<-s.closed
	return nil
}

func (s *Session) closeSubs() {
	for _, sub := range s.subs {
		sub.Close()
	}
}
