package telemetry

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rencelibrando/infoma-sub004/internal/o11y"
	"github.com/rencelibrando/infoma-sub004/ride"
)

var ErrClosed = errors.New("telemetry: replicator closed")

const (
	queueSize    = 1024
	writeTimeout = 5 * time.Second
)

type job struct {
	ctx  context.Context
	fix  ride.Fix
	done chan error
}

// Replicator fans fixes out to its sinks on background workers. Fixes of one
// ride always land on the same worker, so they reach each sink in the order
// they were published. Sink failures are logged and counted and never reach
// the ride.
type Replicator struct {
	sinks   []Sink
	logger  *slog.Logger
	metrics *o11y.Metrics

	mu     sync.RWMutex
	closed bool
	shards []chan job
	wg     sync.WaitGroup
}

func NewReplicator(logger *slog.Logger, metrics *o11y.Metrics, workers int, sinks ...Sink) *Replicator {
	if workers < 1 {
		workers = 1
	}
	r := &Replicator{
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		shards:  make([]chan job, workers),
	}
	for i := range r.shards {
		r.shards[i] = make(chan job, queueSize)
		r.wg.Add(1)
		go r.work(r.shards[i])
	}
	return r
}

func (r *Replicator) shard(f ride.Fix) chan job {
	n := binary.BigEndian.Uint32(f.RideID[:4])
	return r.shards[n%uint32(len(r.shards))]
}

// Publish queues f. When the queue is full the fix is dropped; the next fix
// of the ride supersedes it in the live view.
func (r *Replicator) Publish(ctx context.Context, f ride.Fix) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.shard(f) <- job{ctx: context.WithoutCancel(ctx), fix: f}:
	default:
		r.metrics.ReplicationFailure("queue")
		r.logger.WarnContext(ctx, "telemetry queue full, dropping fix",
			slog.String("ride_id", f.RideID.String()),
			slog.Int("seq", f.Seq),
		)
	}
}

// Flush queues f behind every fix already published for its ride and waits
// for all sinks to handle it.
func (r *Replicator) Flush(ctx context.Context, f ride.Fix) error {
	done := make(chan error, 1)

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	select {
	case r.shard(f) <- job{ctx: context.WithoutCancel(ctx), fix: f, done: done}:
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}
	r.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Replicator) work(jobs <-chan job) {
	defer r.wg.Done()
	for j := range jobs {
		err := r.write(j.ctx, j.fix)
		if j.done != nil {
			j.done <- err
		}
	}
}

func (r *Replicator) write(ctx context.Context, f ride.Fix) error {
	var errs []error
	for _, s := range r.sinks {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := s.Write(wctx, f)
		cancel()
		if err == nil {
			continue
		}

		r.metrics.ReplicationFailure(s.Name())
		r.logger.WarnContext(ctx, "telemetry write failed",
			slog.String("sink", s.Name()),
			slog.String("ride_id", f.RideID.String()),
			slog.Int("seq", f.Seq),
			slog.Bool("terminal", f.Terminal),
			slog.Any("error", err),
		)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close stops accepting fixes and waits for queued ones to be written.
func (r *Replicator) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, s := range r.shards {
		close(s)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
