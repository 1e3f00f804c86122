package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/internal/live"
	"github.com/rencelibrando/infoma-sub004/ride"
)

// LiveSink writes every fix to the ephemeral store and clears the rider's
// entries once the ride is over. The per-ride history list is left to
// expire.
type LiveSink struct {
	store live.Store
}

func NewLiveSink(store live.Store) *LiveSink {
	return &LiveSink{store: store}
}

func (s *LiveSink) Name() string { return "live" }

type liveLocation struct {
	RideID    uuid.UUID   `json:"rideId"`
	BikeID    uuid.UUID   `json:"bikeId"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Speed     float64     `json:"speed"`
	Accuracy  float64     `json:"accuracy"`
	Bearing   float64     `json:"bearing"`
	Timestamp ride.Millis `json:"timestamp"`
	IsActive  bool        `json:"isActive"`
}

func (s *LiveSink) Write(ctx context.Context, f ride.Fix) error {
	if f.Terminal {
		return errors.Join(
			s.store.Remove(ctx, live.LiveLocation(f.UserID)),
			s.store.Remove(ctx, live.ActiveRide(f.UserID)),
		)
	}

	err := s.store.Set(ctx, live.LiveLocation(f.UserID), liveLocation{
		RideID:    f.RideID,
		BikeID:    f.BikeID,
		Latitude:  f.Sample.Latitude,
		Longitude: f.Sample.Longitude,
		Speed:     f.Sample.Speed,
		Accuracy:  f.Sample.Accuracy,
		Bearing:   f.Sample.Bearing,
		Timestamp: f.Sample.Timestamp,
		IsActive:  true,
	})
	if err != nil {
		return err
	}

	err = s.store.Update(ctx, live.ActiveRide(f.UserID), map[string]any{
		"rideId":           f.RideID,
		"bikeId":           f.BikeID,
		"startTime":        f.StartTime.UnixMilli(),
		"status":           f.Status,
		"latitude":         f.Sample.Latitude,
		"longitude":        f.Sample.Longitude,
		"distanceTraveled": f.Stats.DistanceTraveled,
		"currentSpeed":     f.Stats.CurrentSpeed,
		"maxSpeed":         f.Stats.MaxSpeed,
		"lastUpdated":      time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	return s.store.Append(ctx, live.RideLocationHistory(f.RideID), f.Sample)
}

// SampleWriter is the durable side of telemetry, implemented by the ride
// repositories.
type SampleWriter interface {
	AppendSample(ctx context.Context, rideID uuid.UUID, seq int, s ride.LocationSample) error
	SaveProgress(ctx context.Context, rideID uuid.UUID, st ride.Stats) error
}

type DurableSink struct {
	w SampleWriter
}

func NewDurableSink(w SampleWriter) *DurableSink {
	return &DurableSink{w: w}
}

func (s *DurableSink) Name() string { return "durable" }

// Write records the sample. Running statistics of a terminal ride were
// already written when the ride was finished.
func (s *DurableSink) Write(ctx context.Context, f ride.Fix) error {
	if err := s.w.AppendSample(ctx, f.RideID, f.Seq, f.Sample); err != nil {
		return err
	}
	if f.Terminal {
		return nil
	}
	return s.w.SaveProgress(ctx, f.RideID, f.Stats)
}
