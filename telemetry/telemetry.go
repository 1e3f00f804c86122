// Package telemetry replicates ride location fixes to the ephemeral and the
// durable store. Both backends sit behind Sink; which fixes reach a sink is
// decided by a Policy, so the durable write throttle can be swapped or tested
// on its own.
package telemetry

import (
	"context"

	"github.com/rencelibrando/infoma-sub004/ride"
)

type Sink interface {
	Name() string
	Write(ctx context.Context, f ride.Fix) error
}

type Policy interface {
	Admit(f ride.Fix) bool
}

// EveryNth admits every Nth fix of a ride and every terminal fix.
type EveryNth int

const DefaultSampleEvery EveryNth = 10

func (n EveryNth) Admit(f ride.Fix) bool {
	if f.Terminal || n <= 1 {
		return true
	}
	return f.Seq%int(n) == 0
}

type throttled struct {
	Sink
	policy Policy
}

// Throttle wraps s so that it only sees fixes admitted by p.
func Throttle(s Sink, p Policy) Sink {
	return &throttled{Sink: s, policy: p}
}

func (t *throttled) Write(ctx context.Context, f ride.Fix) error {
	if !t.policy.Admit(f) {
		return nil
	}
	return t.Sink.Write(ctx, f)
}
