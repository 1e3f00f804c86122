package live

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/rencelibrando/infoma-sub004/internal/pubsub"
)

// Memory is an in-process Store for tests and single-node development.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	lists  map[string][][]byte
	broker *pubsub.Broker
}

func NewMemory() *Memory {
	return &Memory{
		values: make(map[string][]byte),
		lists:  make(map[string][][]byte),
		broker: pubsub.NewBroker(),
	}
}

func (m *Memory) Set(ctx context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.values[path] = b
	m.mu.Unlock()

	m.broker.Publish(pubsub.Message{Topic: path, Payload: b})
	return nil
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	merged := map[string]any{}
	if cur, ok := m.values[path]; ok {
		if err := json.Unmarshal(cur, &merged); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	b, err := json.Marshal(merged)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.values[path] = b
	m.mu.Unlock()

	m.broker.Publish(pubsub.Message{Topic: path, Payload: b})
	return nil
}

func (m *Memory) Append(ctx context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.lists[path] = append(m.lists[path], b)
	m.mu.Unlock()

	m.broker.Publish(pubsub.Message{Topic: path, Payload: b})
	return nil
}

func (m *Memory) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	delete(m.values, path)
	delete(m.lists, path)
	m.mu.Unlock()

	m.broker.Publish(pubsub.Message{Topic: path})
	return nil
}

func (m *Memory) Get(ctx context.Context, path string, dst any) error {
	m.mu.RLock()
	b, ok := m.values[path]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(b, dst)
}

func (m *Memory) List(ctx context.Context, path string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.lists[path]...), nil
}

func (m *Memory) Subscribe(ctx context.Context, pattern string) (*pubsub.Subscription, error) {
	return m.broker.Subscribe(pattern), nil
}
