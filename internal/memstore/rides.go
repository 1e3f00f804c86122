package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/ride"
)

// Rides implements ride.Store and the durable telemetry writer.
type Rides struct{ db *DB }

func (db *DB) Rides() *Rides { return &Rides{db: db} }

func (s *Rides) Ride(ctx context.Context, id uuid.UUID) (ride.Ride, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	r, ok := s.db.rides[id]
	if !ok {
		return ride.Ride{}, ride.ErrNotFound
	}
	return r, nil
}

func (s *Rides) ActiveByUser(ctx context.Context, userID string) (ride.Ride, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	if r, ok := s.db.activeByUser(userID); ok {
		return r, nil
	}
	return ride.Ride{}, ride.ErrNotFound
}

func (db *DB) activeByUser(userID string) (ride.Ride, bool) {
	for _, r := range db.rides {
		if r.UserID == userID && r.Status == ride.StatusActive {
			return r, true
		}
	}
	return ride.Ride{}, false
}

// History returns archived rides, newest first, with their full paths.
func (s *Rides) History(ctx context.Context, userID string) ([]ride.Ride, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := slices.Clone(s.db.history[userID])
	slices.SortFunc(out, func(a, b ride.Ride) int { return b.StartTime.Compare(a.StartTime) })
	return out, nil
}

func (s *Rides) Update(ctx context.Context, bikeID uuid.UUID, fn func(ctx context.Context, tx ride.Tx) error) error {
	return s.db.update(bikeID, func(t *tx) error {
		return fn(ctx, rideTx{t})
	})
}

func (s *Rides) Finish(ctx context.Context, r ride.Ride) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	cur, ok := s.db.rides[r.ID]
	if !ok || cur.Status != ride.StatusActive {
		return ride.ErrNotActive
	}

	archived := r
	archived.Path = slices.Clone(r.Path)
	s.db.history[r.UserID] = append(s.db.history[r.UserID], archived)

	r.Path = nil
	r.UpdatedAt = time.Now()
	s.db.rides[r.ID] = r
	s.db.publish("rides", r.Event())
	return nil
}

func (s *Rides) FlagRestore(ctx context.Context, p bike.PendingRestore) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, q := range s.db.restores {
		if q.RideID == p.RideID {
			return nil
		}
	}
	p.CreatedAt = time.Now()
	s.db.restores[p.ID] = p
	return nil
}

func (s *Rides) AppendSample(ctx context.Context, rideID uuid.UUID, seq int, sample ride.LocationSample) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m, ok := s.db.samples[rideID]
	if !ok {
		m = make(map[int]ride.LocationSample)
		s.db.samples[rideID] = m
	}
	if _, dup := m[seq]; !dup {
		m[seq] = sample
	}
	return nil
}

func (s *Rides) SaveProgress(ctx context.Context, rideID uuid.UUID, st ride.Stats) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.rides[rideID]
	if !ok || r.Status != ride.StatusActive || r.SampleCount > st.SampleCount {
		return nil
	}
	r.Stats = st
	r.UpdatedAt = time.Now()
	s.db.rides[rideID] = r
	return nil
}

func (s *Rides) Samples(ctx context.Context, rideID uuid.UUID) ([]ride.StoredSample, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]ride.StoredSample, 0, len(s.db.samples[rideID]))
	for seq, sample := range s.db.samples[rideID] {
		out = append(out, ride.StoredSample{Seq: seq, LocationSample: sample})
	}
	slices.SortFunc(out, func(a, b ride.StoredSample) int { return a.Seq - b.Seq })
	return out, nil
}

// SampleSeqs returns the sequence numbers of the durable samples of a ride.
func (s *Rides) SampleSeqs(rideID uuid.UUID) []int {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var seqs []int
	for seq := range s.db.samples[rideID] {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	return seqs
}

type rideTx struct{ *tx }

func (t rideTx) Bike(ctx context.Context) (bike.Record, error) {
	return t.bike, nil
}

func (t rideTx) SaveBike(ctx context.Context, b bike.Bike) error {
	return t.saveBike(b)
}

func (t rideTx) ActiveByUser(ctx context.Context, userID string) (ride.Ride, bool, error) {
	for _, r := range t.rides {
		if r.UserID == userID && r.Status == ride.StatusActive {
			return r, true, nil
		}
	}
	r, ok := t.db.activeByUser(userID)
	return r, ok, nil
}

func (t rideTx) Holding(ctx context.Context, r booking.Range) ([]booking.Booking, error) {
	return t.holding(r), nil
}

func (t rideTx) Insert(ctx context.Context, r *ride.Ride) error {
	r.UpdatedAt = time.Now()
	t.rides = append(t.rides, *r)
	return nil
}
