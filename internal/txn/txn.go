// Package txn retries store transactions that lose a serialization race.
package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrTransient is returned once every attempt of a transaction lost to
// contention. Callers may retry the whole operation.
var ErrTransient = errors.New("transient failure: transaction retries exhausted")

const DefaultAttempts = 5

type Policy struct {
	Attempts uint
	Initial  time.Duration
	Max      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts: DefaultAttempts,
		Initial:  10 * time.Millisecond,
		Max:      250 * time.Millisecond,
	}
}

// Run calls attempt until it succeeds, fails with an error that contention
// does not classify as retryable, or the policy runs out of attempts.
func Run(ctx context.Context, p Policy, contention func(error) bool, attempt func(ctx context.Context) error) error {
	if p.Attempts == 0 {
		p = DefaultPolicy()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := attempt(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if contention != nil && contention(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.Attempts))
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if contention != nil && contention(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
