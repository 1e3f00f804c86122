// Package memstore is an in-process durable store. It implements the same
// repository contracts as the Postgres adapters, with one mutex as its
// transaction primitive, and backs the test suites and --store=memory.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/internal/pubsub"
	"github.com/rencelibrando/infoma-sub004/ride"
)

type DB struct {
	mu       sync.RWMutex
	bikes    map[uuid.UUID]bike.Record
	bookings map[uuid.UUID]booking.Booking
	rides    map[uuid.UUID]ride.Ride
	samples  map[uuid.UUID]map[int]ride.LocationSample
	history  map[string][]ride.Ride
	restores map[uuid.UUID]bike.PendingRestore

	broker    *pubsub.Broker
	bikeWrite func(bike.Bike) error
}

func New() *DB {
	return &DB{
		bikes:    make(map[uuid.UUID]bike.Record),
		bookings: make(map[uuid.UUID]booking.Booking),
		rides:    make(map[uuid.UUID]ride.Ride),
		samples:  make(map[uuid.UUID]map[int]ride.LocationSample),
		history:  make(map[string][]ride.Ride),
		restores: make(map[uuid.UUID]bike.PendingRestore),
		broker:   pubsub.NewBroker(),
	}
}

// OnBikeWrite installs a hook that runs before every bike write inside a
// transaction. A non-nil error aborts the transaction.
func (db *DB) OnBikeWrite(fn func(bike.Bike) error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.bikeWrite = fn
}

// PutRecord stores raw flags without any validation, the way an
// out-of-band writer could.
func (db *DB) PutRecord(rec bike.Record) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.bikes[rec.ID] = rec
}

// Subscribe follows the "bikes", "bookings" and "rides" change streams.
func (db *DB) Subscribe(ctx context.Context, channel string) (*pubsub.Subscription, error) {
	return db.broker.Subscribe(channel), nil
}

func (db *DB) publish(channel string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	db.broker.Publish(pubsub.Message{Topic: channel, Payload: b})
}

// tx stages writes against one bike and applies them on commit. Callers hold
// db.mu for the whole transaction.
type tx struct {
	db       *DB
	bike     bike.Record
	bikeOut  *bike.Bike
	bookings map[uuid.UUID]booking.Booking
	rides    []ride.Ride
	cleared  []uuid.UUID
}

func (db *DB) update(bikeID uuid.UUID, fn func(t *tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	rec, ok := db.bikes[bikeID]
	if !ok {
		return bike.ErrNotFound
	}
	t := &tx{db: db, bike: rec, bookings: make(map[uuid.UUID]booking.Booking)}
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (t *tx) saveBike(b bike.Bike) error {
	if t.db.bikeWrite != nil {
		if err := t.db.bikeWrite(b); err != nil {
			return err
		}
	}
	b.UpdatedAt = time.Now()
	t.bikeOut = &b
	t.bike = b.Record()
	return nil
}

// holding returns bookings of the bike that hold a window overlapping r,
// staged writes included.
func (t *tx) holding(r booking.Range) []booking.Booking {
	var out []booking.Booking
	seen := make(map[uuid.UUID]bool)
	for id, b := range t.bookings {
		seen[id] = true
		if b.BikeID == t.bike.ID && b.Status.Holds() && b.Range().Overlaps(r) {
			out = append(out, b)
		}
	}
	for id, b := range t.db.bookings {
		if seen[id] {
			continue
		}
		if b.BikeID == t.bike.ID && b.Status.Holds() && b.Range().Overlaps(r) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out
}

func (t *tx) commit() {
	db := t.db
	if t.bikeOut != nil {
		db.bikes[t.bike.ID] = t.bike
		db.publish("bikes", t.bikeOut.Event())
	}
	for id, b := range t.bookings {
		db.bookings[id] = b
		db.publish("bookings", b)
	}
	for _, r := range t.rides {
		r.Path = nil
		db.rides[r.ID] = r
		db.publish("rides", r.Event())
	}
	for _, id := range t.cleared {
		delete(db.restores, id)
	}
}

// Bikes is the fleet catalog.
type Bikes struct{ db *DB }

func (db *DB) Bikes() *Bikes { return &Bikes{db: db} }

func (s *Bikes) Create(ctx context.Context, b bike.Bike) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	b.UpdatedAt = time.Now()
	s.db.bikes[b.ID] = b.Record()
	s.db.publish("bikes", b.Event())
	return nil
}

func (s *Bikes) List(ctx context.Context) ([]bike.Record, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]bike.Record, 0, len(s.db.bikes))
	for _, r := range s.db.bikes {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b bike.Record) int { return strings.Compare(a.Label, b.Label) })
	return out, nil
}

func (s *Bikes) Get(ctx context.Context, id uuid.UUID) (bike.Record, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	r, ok := s.db.bikes[id]
	if !ok {
		return bike.Record{}, bike.ErrNotFound
	}
	return r, nil
}

func (s *Bikes) Transition(ctx context.Context, id uuid.UUID, fn func(bike.Bike) (bike.Bike, error)) (bike.Bike, error) {
	var next bike.Bike
	err := s.db.update(id, func(t *tx) error {
		cur, err := bike.Load(t.bike)
		if err != nil {
			return err
		}
		if next, err = fn(cur); err != nil {
			return err
		}
		return t.saveBike(next)
	})
	return next, err
}

func sortBookings(b []booking.Booking) {
	slices.SortFunc(b, func(x, y booking.Booking) int { return x.StartTime.Compare(y.StartTime) })
}
