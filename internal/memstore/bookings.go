package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
)

// Bookings implements booking.Store.
type Bookings struct{ db *DB }

func (db *DB) Bookings() *Bookings { return &Bookings{db: db} }

func (s *Bookings) Bike(ctx context.Context, id uuid.UUID) (bike.Record, error) {
	return s.db.Bikes().Get(ctx, id)
}

func (s *Bookings) Booking(ctx context.Context, id uuid.UUID) (booking.Booking, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	b, ok := s.db.bookings[id]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

func (s *Bookings) Holding(ctx context.Context, bikeID uuid.UUID, r booking.Range) ([]booking.Booking, error) {
	return s.filter(func(b booking.Booking) bool {
		return b.BikeID == bikeID && b.Status.Holds() && b.Range().Overlaps(r)
	}), nil
}

func (s *Bookings) ListByUser(ctx context.Context, userID string) ([]booking.Booking, error) {
	return s.filter(func(b booking.Booking) bool { return b.UserID == userID }), nil
}

func (s *Bookings) ListByBike(ctx context.Context, bikeID uuid.UUID) ([]booking.Booking, error) {
	return s.filter(func(b booking.Booking) bool { return b.BikeID == bikeID }), nil
}

func (s *Bookings) filter(keep func(booking.Booking) bool) []booking.Booking {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []booking.Booking
	for _, b := range s.db.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out
}

func (s *Bookings) Update(ctx context.Context, bikeID uuid.UUID, fn func(ctx context.Context, tx booking.Tx) error) error {
	return s.db.update(bikeID, func(t *tx) error {
		return fn(ctx, bookingTx{t})
	})
}

type bookingTx struct{ *tx }

func (t bookingTx) Bike(ctx context.Context) (bike.Record, error) {
	return t.bike, nil
}

func (t bookingTx) Holding(ctx context.Context, r booking.Range) ([]booking.Booking, error) {
	return t.holding(r), nil
}

func (t bookingTx) Booking(ctx context.Context, id uuid.UUID) (booking.Booking, error) {
	if b, ok := t.bookings[id]; ok {
		return b, nil
	}
	b, ok := t.db.bookings[id]
	if !ok || b.BikeID != t.bike.ID {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

func (t bookingTx) Insert(ctx context.Context, b *booking.Booking) error {
	if len(t.holding(b.Range())) > 0 {
		return booking.ErrConflict
	}
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	t.bookings[b.ID] = *b
	return nil
}

func (t bookingTx) SetStatus(ctx context.Context, id uuid.UUID, s booking.Status) (booking.Booking, error) {
	b, err := t.Booking(ctx, id)
	if err != nil {
		return booking.Booking{}, err
	}
	b.Status = s
	b.UpdatedAt = time.Now()
	t.bookings[id] = b
	return b, nil
}
