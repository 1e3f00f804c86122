package ride

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/internal/o11y"
)

// Store is the durable ride store. Update runs fn in a transaction that holds
// the bike's row lock.
type Store interface {
	Ride(ctx context.Context, id uuid.UUID) (Ride, error)
	ActiveByUser(ctx context.Context, userID string) (Ride, error)
	History(ctx context.Context, userID string) ([]Ride, error)
	Update(ctx context.Context, bikeID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
	// Finish writes the terminal ride and its history entry atomically.
	Finish(ctx context.Context, r Ride) error
	// Samples returns the durable samples of a ride ordered by Seq.
	Samples(ctx context.Context, rideID uuid.UUID) ([]StoredSample, error)
	FlagRestore(ctx context.Context, p bike.PendingRestore) error
}

type Tx interface {
	Bike(ctx context.Context) (bike.Record, error)
	SaveBike(ctx context.Context, b bike.Bike) error
	ActiveByUser(ctx context.Context, userID string) (Ride, bool, error)
	Holding(ctx context.Context, r booking.Range) ([]booking.Booking, error)
	Insert(ctx context.Context, r *Ride) error
}

// Fix is one replicated telemetry event.
type Fix struct {
	RideID    uuid.UUID
	BikeID    uuid.UUID
	UserID    string
	StartTime time.Time
	// Seq is the 1-based position of Sample in the ride's path.
	Seq      int
	Sample   LocationSample
	Stats    Stats
	Status   Status
	Terminal bool
}

// Publisher replicates fixes to the telemetry stores. Publish never blocks on
// a store and never fails; Flush waits until the fix and every fix published
// before it for the same ride have been handled.
type Publisher interface {
	Publish(ctx context.Context, f Fix)
	Flush(ctx context.Context, f Fix) error
}

type Config struct {
	// MinBillableFraction is the minimum billed part of an hour.
	MinBillableFraction float64
	// BookingBuffer is how far ahead another rider's booking blocks a start.
	BookingBuffer time.Duration
	Now           func() time.Time
}

func DefaultConfig() Config {
	return Config{
		MinBillableFraction: 0.25,
		BookingBuffer:       time.Hour,
		Now:                 time.Now,
	}
}

const tombstoneTTL = 5 * time.Minute

type Tracker struct {
	store    Store
	pub      Publisher
	cfg      Config
	logger   *slog.Logger
	metrics  *o11y.Metrics
	tracer   trace.Tracer
	validate *validator.Validate

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	// ended remembers recently finished rides so that a sample racing with
	// the end of a ride cannot reload a stale active copy from the store.
	ended map[uuid.UUID]time.Time
}

// session is the in-memory accumulator of one active ride.
type session struct {
	mu       sync.Mutex
	ride     Ride
	terminal bool
}

func NewTracker(store Store, pub Publisher, cfg Config, logger *slog.Logger, metrics *o11y.Metrics) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		store:    store,
		pub:      pub,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer("ride"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		sessions: make(map[uuid.UUID]*session),
		ended:    make(map[uuid.UUID]time.Time),
	}
}

func (t *Tracker) validSample(s LocationSample) error {
	if err := t.validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	return nil
}

func (t *Tracker) Start(ctx context.Context, bikeID uuid.UUID, userID string, at LocationSample) (r Ride, err error) {
	ctx, span := t.tracer.Start(ctx, "ride.Start", trace.WithAttributes(
		attribute.String("bike.id", bikeID.String()),
		attribute.String("user.id", userID),
	))
	defer func() { endSpan(span, err) }()

	if err := t.validSample(at); err != nil {
		return Ride{}, err
	}
	if at.Timestamp.IsZero() {
		at.Timestamp = At(t.cfg.Now())
	}

	now := t.cfg.Now()
	err = t.store.Update(ctx, bikeID, func(ctx context.Context, tx Tx) error {
		active, ok, err := tx.ActiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		if ok {
			return &rideInProgressError{ride: active}
		}

		holding, err := tx.Holding(ctx, booking.Range{Start: now, End: now.Add(t.cfg.BookingBuffer)})
		if err != nil {
			return err
		}
		for _, h := range holding {
			if h.UserID != userID {
				return &UpcomingBookingError{BookingID: h.ID, StartTime: h.StartTime}
			}
		}

		rec, err := tx.Bike(ctx)
		if err != nil {
			return err
		}
		b, err := bike.Load(rec)
		if err != nil {
			return err
		}
		b, err = b.BeginUse(userID)
		if err != nil {
			return err
		}

		r = Ride{
			ID:         uuid.New(),
			BikeID:     bikeID,
			UserID:     userID,
			StartTime:  now,
			Status:     StatusActive,
			HourlyRate: b.HourlyRate,
		}
		r.Apply(at)

		if err := tx.SaveBike(ctx, b); err != nil {
			return err
		}
		return tx.Insert(ctx, &r)
	})
	if err != nil {
		return Ride{}, err
	}

	t.mu.Lock()
	t.sessions[r.ID] = &session{ride: r}
	t.mu.Unlock()
	t.reportActive()

	t.pub.Publish(ctx, fixOf(r, at, false))

	t.logger.InfoContext(ctx, "ride started",
		slog.String("ride_id", r.ID.String()),
		slog.String("bike_id", bikeID.String()),
		slog.String("user_id", userID),
	)
	return r.summary(), nil
}

// OnLocationSample folds a sample into an active ride and replicates it.
// Samples for rides that are no longer active are dropped with ErrNotActive
// and nothing is written.
func (t *Tracker) OnLocationSample(ctx context.Context, rideID uuid.UUID, s LocationSample) (Ride, error) {
	if err := t.validSample(s); err != nil {
		t.metrics.Sample("invalid")
		return Ride{}, err
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = At(t.cfg.Now())
	}

	sess, err := t.session(ctx, rideID)
	if err != nil {
		if errors.Is(err, ErrNotActive) {
			t.metrics.Sample("dropped")
		}
		return Ride{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.terminal {
		t.metrics.Sample("dropped")
		return Ride{}, ErrNotActive
	}

	sess.ride.Apply(s)
	t.pub.Publish(ctx, fixOf(sess.ride, s, false))
	t.metrics.Sample("accepted")

	return sess.ride.summary(), nil
}

// End completes the ride, bills it and returns the bike to service.
func (t *Tracker) End(ctx context.Context, rideID uuid.UUID, at LocationSample) (r Ride, err error) {
	ctx, span := t.tracer.Start(ctx, "ride.End", trace.WithAttributes(attribute.String("ride.id", rideID.String())))
	defer func() { endSpan(span, err) }()

	if err := t.validSample(at); err != nil {
		return Ride{}, err
	}
	if at.Timestamp.IsZero() {
		at.Timestamp = At(t.cfg.Now())
	}
	return t.finish(ctx, rideID, StatusCompleted, &at)
}

// Cancel ends the ride without charge. The ride is still archived.
func (t *Tracker) Cancel(ctx context.Context, rideID uuid.UUID) (r Ride, err error) {
	ctx, span := t.tracer.Start(ctx, "ride.Cancel", trace.WithAttributes(attribute.String("ride.id", rideID.String())))
	defer func() { endSpan(span, err) }()

	return t.finish(ctx, rideID, StatusCancelled, nil)
}

func (t *Tracker) finish(ctx context.Context, rideID uuid.UUID, status Status, at *LocationSample) (Ride, error) {
	sess, err := t.session(ctx, rideID)
	if err != nil {
		return Ride{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.terminal {
		return Ride{}, ErrNotActive
	}

	now := t.cfg.Now()
	r := sess.ride
	r.Path = append([]LocationSample(nil), sess.ride.Path...)
	if at != nil {
		r.Apply(*at)
	}
	r.Status = status
	r.EndTime = sql.NullTime{Time: now, Valid: true}
	if status == StatusCompleted {
		r.Cost = Cost(now.Sub(r.StartTime), r.HourlyRate, t.cfg.MinBillableFraction)
	}

	if err := t.store.Finish(ctx, r); err != nil {
		return Ride{}, err
	}

	sess.ride = r
	sess.terminal = true
	t.retire(r.ID, now)

	t.restoreBike(ctx, r, at)

	last := r.LastSample.Sample
	if err := t.pub.Flush(ctx, fixOf(r, last, true)); err != nil {
		t.logger.WarnContext(ctx, "failed to clean up live ride state",
			slog.String("ride_id", r.ID.String()),
			slog.Any("error", err),
		)
	}

	t.logger.InfoContext(ctx, "ride finished",
		slog.String("ride_id", r.ID.String()),
		slog.String("status", string(status)),
		slog.Float64("distance_m", r.DistanceTraveled),
		slog.Float64("cost", r.Cost),
	)
	return r, nil
}

// restoreBike locks the bike after a ride. Failure does not undo the ride;
// the bike is queued for the auditor instead.
func (t *Tracker) restoreBike(ctx context.Context, r Ride, at *LocationSample) {
	err := t.store.Update(ctx, r.BikeID, func(ctx context.Context, tx Tx) error {
		rec, err := tx.Bike(ctx)
		if err != nil {
			return err
		}
		b, err := bike.Load(rec)
		if err != nil {
			return err
		}
		if !b.InUse() || b.CurrentRiderID != r.UserID {
			return nil
		}
		b, err = b.EndUse()
		if err != nil {
			return err
		}
		if at != nil {
			b.Location = bike.Point(at.Latitude, at.Longitude)
		}
		return tx.SaveBike(ctx, b)
	})
	if err == nil {
		return
	}

	t.logger.ErrorContext(ctx, "failed to restore bike after ride",
		slog.String("ride_id", r.ID.String()),
		slog.String("bike_id", r.BikeID.String()),
		slog.Any("error", err),
	)
	flagErr := t.store.FlagRestore(context.WithoutCancel(ctx), bike.PendingRestore{
		ID:      uuid.New(),
		BikeID:  r.BikeID,
		RideID:  r.ID,
		RiderID: r.UserID,
		Reason:  err.Error(),
	})
	if flagErr != nil {
		t.logger.ErrorContext(ctx, "failed to queue bike restore",
			slog.String("bike_id", r.BikeID.String()),
			slog.Any("error", flagErr),
		)
	}
}

// Get prefers the in-memory accumulator, which is ahead of the durable copy
// between throttled writes.
func (t *Tracker) Get(ctx context.Context, rideID uuid.UUID) (Ride, error) {
	t.mu.Lock()
	sess, ok := t.sessions[rideID]
	t.mu.Unlock()
	if ok {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.ride.summary(), nil
	}
	return t.store.Ride(ctx, rideID)
}

func (t *Tracker) Current(ctx context.Context, userID string) (Ride, error) {
	r, err := t.store.ActiveByUser(ctx, userID)
	if err != nil {
		return Ride{}, err
	}
	return t.Get(ctx, r.ID)
}

func (t *Tracker) History(ctx context.Context, userID string) ([]Ride, error) {
	return t.store.History(ctx, userID)
}

// session returns the accumulator for a ride, rehydrating it from the store
// after a restart.
func (t *Tracker) session(ctx context.Context, rideID uuid.UUID) (*session, error) {
	t.mu.Lock()
	sess, ok := t.sessions[rideID]
	t.mu.Unlock()
	if ok {
		return sess, nil
	}

	r, err := t.store.Ride(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusActive {
		return nil, ErrNotActive
	}
	stored, err := t.store.Samples(ctx, rideID)
	if err != nil {
		return nil, err
	}
	r.Path = recoveredPath(r, stored)

	t.mu.Lock()
	defer t.mu.Unlock()
	if sess, ok := t.sessions[rideID]; ok {
		return sess, nil
	}
	if _, ok := t.ended[rideID]; ok {
		return nil, ErrNotActive
	}
	sess = &session{ride: r}
	t.sessions[rideID] = sess
	return sess, nil
}

// recoveredPath rebuilds the part of a path that survived a restart: the
// throttled durable samples covered by the saved statistics, then the last
// sample if it was not one of them.
func recoveredPath(r Ride, stored []StoredSample) []LocationSample {
	path := make([]LocationSample, 0, len(stored)+1)
	last := 0
	for _, s := range stored {
		if s.Seq > r.SampleCount {
			break
		}
		path = append(path, s.LocationSample)
		last = s.Seq
	}
	if r.LastSample.Valid && last < r.SampleCount {
		path = append(path, r.LastSample.Sample)
	}
	return path
}

// retire moves a finished ride from the active set to the tombstones and
// forgets tombstones older than tombstoneTTL.
func (t *Tracker) retire(rideID uuid.UUID, now time.Time) {
	t.mu.Lock()
	delete(t.sessions, rideID)
	t.ended[rideID] = now
	for id, at := range t.ended {
		if now.Sub(at) > tombstoneTTL {
			delete(t.ended, id)
		}
	}
	t.mu.Unlock()
	t.reportActive()
}

func (t *Tracker) reportActive() {
	t.mu.Lock()
	n := len(t.sessions)
	t.mu.Unlock()
	t.metrics.RidesActive(n)
}

func (r Ride) summary() Ride {
	r.Path = nil
	return r
}

func fixOf(r Ride, s LocationSample, terminal bool) Fix {
	return Fix{
		RideID:    r.ID,
		BikeID:    r.BikeID,
		UserID:    r.UserID,
		StartTime: r.StartTime,
		Seq:       r.SampleCount,
		Sample:    s,
		Stats:     r.Stats,
		Status:    r.Status,
		Terminal:  terminal,
	}
}

// UpcomingBookingError blocks a ride start because another rider's booking
// begins soon.
type UpcomingBookingError struct {
	BookingID uuid.UUID
	StartTime time.Time
}

func (e *UpcomingBookingError) Error() string {
	return "bike is booked by another rider from " + e.StartTime.Format(time.RFC3339)
}

func (e *UpcomingBookingError) Is(target error) bool {
	return target == booking.ErrConflict
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
