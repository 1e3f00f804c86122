package pg

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rencelibrando/infoma-sub004/internal/pubsub"
)

// Listener turns LISTEN/NOTIFY channels into subscriptions. Each
// subscription holds its own connection for as long as it is open.
type Listener struct {
	url    string
	logger *slog.Logger
}

func NewListener(url string, logger *slog.Logger) *Listener {
	return &Listener{url: url, logger: logger}
}

func (l *Listener) Subscribe(ctx context.Context, channel string) (*pubsub.Subscription, error) {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Close(ctx)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	out := make(chan pubsub.Message, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		defer conn.Close(context.Background())

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					l.logger.Error("listen failed", "channel", channel, "error", err)
				}
				return
			}
			select {
			case out <- pubsub.Message{Topic: n.Channel, Payload: []byte(n.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return pubsub.NewSubscription(out, func() {
		cancel()
		<-done
	}), nil
}
