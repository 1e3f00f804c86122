package live

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/rencelibrando/infoma-sub004/internal/pubsub"
)

const (
	keyPrefix     = "live:"
	updateRetries = 5
)

// Redis stores each path as a JSON string (lists as Redis lists) under
// "live:<path>" and publishes every write on a channel of the same name.
type Redis struct {
	client *redis.Client
	// ListTTL bounds how long per-ride history lists survive.
	ListTTL time.Duration
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ListTTL: 24 * time.Hour}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedis(client), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Set(ctx context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := keyPrefix + path
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, b, 0)
		p.Publish(ctx, key, b)
		return nil
	})
	return err
}

func (r *Redis) Update(ctx context.Context, path string, fields map[string]any) error {
	key := keyPrefix + path

	merge := func(tx *redis.Tx) error {
		merged := map[string]any{}
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(cur, &merged); err != nil {
				return err
			}
		}
		for k, v := range fields {
			merged[k] = v
		}
		b, err := json.Marshal(merged)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			p.Publish(ctx, key, b)
			return nil
		})
		return err
	}

	var err error
	for range updateRetries {
		err = r.client.Watch(ctx, merge, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (r *Redis) Append(ctx context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := keyPrefix + path
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, b)
		if r.ListTTL > 0 {
			p.Expire(ctx, key, r.ListTTL)
		}
		p.Publish(ctx, key, b)
		return nil
	})
	return err
}

func (r *Redis) Remove(ctx context.Context, path string) error {
	key := keyPrefix + path
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.Publish(ctx, key, "")
		return nil
	})
	return err
}

func (r *Redis) Get(ctx context.Context, path string, dst any) error {
	b, err := r.client.Get(ctx, keyPrefix+path).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func (r *Redis) List(ctx context.Context, path string) ([][]byte, error) {
	items, err := r.client.LRange(ctx, keyPrefix+path, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = []byte(it)
	}
	return out, nil
}

func (r *Redis) Subscribe(ctx context.Context, pattern string) (*pubsub.Subscription, error) {
	ps := r.client.PSubscribe(ctx, keyPrefix+pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	out := make(chan pubsub.Message, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case m, ok := <-ps.Channel():
				if !ok {
					return
				}
				msg := pubsub.Message{Topic: strings.TrimPrefix(m.Channel, keyPrefix)}
				if m.Payload != "" {
					msg.Payload = []byte(m.Payload)
				}
				select {
				case out <- msg:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	return pubsub.NewSubscription(out, func() {
		close(done)
		ps.Close()
	}), nil
}
