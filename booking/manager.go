package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/internal/o11y"
)

// Store is the durable booking store. Update runs fn in a transaction scoped
// to one bike; implementations retry on contention and return
// txn.ErrTransient once retries run out.
type Store interface {
	Bike(ctx context.Context, id uuid.UUID) (bike.Record, error)
	Booking(ctx context.Context, id uuid.UUID) (Booking, error)
	Holding(ctx context.Context, bikeID uuid.UUID, r Range) ([]Booking, error)
	ListByUser(ctx context.Context, userID string) ([]Booking, error)
	ListByBike(ctx context.Context, bikeID uuid.UUID) ([]Booking, error)
	Update(ctx context.Context, bikeID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of one bike and its bookings inside a transaction. The bike
// row is locked before fn runs.
type Tx interface {
	Bike(ctx context.Context) (bike.Record, error)
	Holding(ctx context.Context, r Range) ([]Booking, error)
	Booking(ctx context.Context, id uuid.UUID) (Booking, error)
	Insert(ctx context.Context, b *Booking) error
	SetStatus(ctx context.Context, id uuid.UUID, s Status) (Booking, error)
}

type Manager struct {
	store   Store
	logger  *slog.Logger
	metrics *o11y.Metrics
	tracer  trace.Tracer
}

func NewManager(store Store, logger *slog.Logger, metrics *o11y.Metrics) *Manager {
	return &Manager{
		store:   store,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("booking"),
	}
}

// CheckAvailability is a best-effort read outside any transaction. It is for
// quick feedback only; Create is the authority.
func (m *Manager) CheckAvailability(ctx context.Context, bikeID uuid.UUID, r Range) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}
	holding, err := m.store.Holding(ctx, bikeID, r)
	if err != nil {
		return false, err
	}
	return len(holding) == 0, nil
}

type Request struct {
	BikeID uuid.UUID
	UserID string
	Range  Range
	Plan   Plan
}

func (m *Manager) Create(ctx context.Context, req Request) (b Booking, err error) {
	ctx, span := m.tracer.Start(ctx, "booking.Create", trace.WithAttributes(
		attribute.String("bike.id", req.BikeID.String()),
		attribute.String("user.id", req.UserID),
	))
	defer func() {
		endSpan(span, err)
		m.metrics.BookingResult(resultOf(err))
	}()

	if err := req.Range.Validate(); err != nil {
		return Booking{}, err
	}
	if !req.Plan.Valid() {
		return Booking{}, ErrInvalidPlan
	}
	if req.UserID == "" {
		return Booking{}, ErrNotAuthorized
	}

	// Unknown bikes fail before a transaction is opened.
	if _, err := m.store.Bike(ctx, req.BikeID); err != nil {
		return Booking{}, err
	}

	err = m.store.Update(ctx, req.BikeID, func(ctx context.Context, tx Tx) error {
		rec, err := tx.Bike(ctx)
		if err != nil {
			return err
		}
		bk, err := bike.Load(rec)
		if err != nil {
			return err
		}
		if bk.State() != bike.LockedAvailable || bk.Maintenance != bike.Operational {
			return bike.ErrNotAvailable
		}

		holding, err := tx.Holding(ctx, req.Range)
		if err != nil {
			return err
		}
		if len(holding) > 0 {
			return ErrConflict
		}

		b = Booking{
			ID:         uuid.New(),
			BikeID:     req.BikeID,
			UserID:     req.UserID,
			StartTime:  req.Range.Start,
			EndTime:    req.Range.End,
			Status:     StatusPending,
			TotalPrice: Price(req.Plan, req.Range, bk.HourlyRate),
			Hourly:     req.Plan == Hourly,
		}
		return tx.Insert(ctx, &b)
	})
	if err != nil {
		return Booking{}, err
	}

	m.logger.InfoContext(ctx, "booking created",
		slog.String("booking_id", b.ID.String()),
		slog.String("bike_id", b.BikeID.String()),
		slog.Float64("total_price", b.TotalPrice),
	)
	return b, nil
}

// Cancel moves a PENDING or CONFIRMED booking to CANCELLED. A non-empty
// userID must own the booking. Bookings only reserve a window and never
// change the bike's flags, so no bike transition is needed here.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID, userID string) (Booking, error) {
	return m.transition(ctx, "booking.Cancel", id, userID, StatusCancelled)
}

func (m *Manager) Confirm(ctx context.Context, id uuid.UUID) (Booking, error) {
	return m.transition(ctx, "booking.Confirm", id, "", StatusConfirmed)
}

func (m *Manager) Complete(ctx context.Context, id uuid.UUID) (Booking, error) {
	return m.transition(ctx, "booking.Complete", id, "", StatusCompleted)
}

func (m *Manager) transition(ctx context.Context, op string, id uuid.UUID, userID string, next Status) (b Booking, err error) {
	ctx, span := m.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("booking.id", id.String())))
	defer func() { endSpan(span, err) }()

	current, err := m.store.Booking(ctx, id)
	if err != nil {
		return Booking{}, err
	}

	err = m.store.Update(ctx, current.BikeID, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Booking(ctx, id)
		if err != nil {
			return err
		}
		if userID != "" && cur.UserID != userID {
			return ErrNotAuthorized
		}
		if !cur.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur.Status, next)
		}
		b, err = tx.SetStatus(ctx, id, next)
		return err
	})
	if err != nil {
		return Booking{}, err
	}

	m.logger.InfoContext(ctx, "booking status changed",
		slog.String("booking_id", id.String()),
		slog.String("status", string(next)),
	)
	return b, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (Booking, error) {
	return m.store.Booking(ctx, id)
}

func (m *Manager) ListByUser(ctx context.Context, userID string) ([]Booking, error) {
	return m.store.ListByUser(ctx, userID)
}

func (m *Manager) ListByBike(ctx context.Context, bikeID uuid.UUID) ([]Booking, error) {
	return m.store.ListByBike(ctx, bikeID)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, bike.ErrNotAvailable):
		return "not_available"
	}
	return "error"
}
