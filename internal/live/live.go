// Package live is the ephemeral, low-latency keyed store behind live ride
// tracking. It is a cache: losing it loses nothing that the durable store
// does not also hold.
package live

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/internal/pubsub"
)

var ErrNotFound = errors.New("live: path not found")

// Store holds JSON values at slash-separated paths. Every write is published
// to subscribers whose pattern matches the path.
type Store interface {
	Set(ctx context.Context, path string, v any) error
	// Update merges fields into the object at path, creating it if absent.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Append adds v to the list at path.
	Append(ctx context.Context, path string, v any) error
	Remove(ctx context.Context, path string) error
	Get(ctx context.Context, path string, dst any) error
	List(ctx context.Context, path string) ([][]byte, error)
	Subscribe(ctx context.Context, pattern string) (*pubsub.Subscription, error)
}

func LiveLocation(userID string) string { return "liveLocation/" + userID }
func ActiveRide(userID string) string   { return "activeRides/" + userID }

func RideLocationHistory(rideID uuid.UUID) string {
	return "rideLocationHistory/" + rideID.String()
}
