package booking_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/internal/memstore"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func setup(t *testing.T, rate float64) (*booking.Manager, *memstore.DB, uuid.UUID) {
	t.Helper()
	db := memstore.New()
	b := bike.New(bike.Details{ID: uuid.New(), Label: "B1", HourlyRate: rate})
	if err := db.Bikes().Create(context.Background(), b); err != nil {
		t.Fatalf("create bike: %v", err)
	}
	return booking.NewManager(db.Bookings(), discard, nil), db, b.ID
}

func window(startHour, endHour int) booking.Range {
	day := time.Now().Add(48 * time.Hour).Truncate(24 * time.Hour)
	return booking.Range{
		Start: day.Add(time.Duration(startHour) * time.Hour),
		End:   day.Add(time.Duration(endHour) * time.Hour),
	}
}

func TestCreate_PricesAndHoldsWindow(t *testing.T) {
	m, _, bikeID := setup(t, 20)
	ctx := context.Background()

	b, err := m.Create(ctx, booking.Request{BikeID: bikeID, UserID: "user-1", Range: window(10, 12), Plan: booking.Hourly})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.TotalPrice != 40 {
		t.Errorf("expected total price 40, got %v", b.TotalPrice)
	}
	if b.Status != booking.StatusPending {
		t.Errorf("expected status %s, got %s", booking.StatusPending, b.Status)
	}

	_, err = m.Create(ctx, booking.Request{BikeID: bikeID, UserID: "user-2", Range: window(11, 13), Plan: booking.Hourly})
	if !errors.Is(err, booking.ErrConflict) {
		t.Errorf("expected ErrConflict for overlapping window, got %v", err)
	}

	if _, err := m.Create(ctx, booking.Request{BikeID: bikeID, UserID: "user-2", Range: window(12, 13), Plan: booking.Hourly}); err != nil {
		t.Errorf("expected back-to-back booking to succeed, got %v", err)
	}
}

func TestCreate_Rejections(t *testing.T) {
	m, db, bikeID := setup(t, 20)
	ctx := context.Background()

	tests := []struct {
		name string
		req  booking.Request
		want error
	}{
		{"unknown bike", booking.Request{BikeID: uuid.New(), UserID: "u", Range: window(10, 11), Plan: booking.Hourly}, bike.ErrNotFound},
		{"empty window", booking.Request{BikeID: bikeID, UserID: "u", Range: window(10, 10), Plan: booking.Hourly}, booking.ErrInvalidRange},
		{"bad plan", booking.Request{BikeID: bikeID, UserID: "u", Range: window(10, 11), Plan: "weekly"}, booking.ErrInvalidPlan},
		{"anonymous", booking.Request{BikeID: bikeID, Range: window(10, 11), Plan: booking.Hourly}, booking.ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Create(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := db.Bikes().Transition(ctx, bikeID, func(b bike.Bike) (bike.Bike, error) {
		return b.SetMaintenance(bike.UnderRepair, "flat tyre")
	}); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}
	_, err := m.Create(ctx, booking.Request{BikeID: bikeID, UserID: "u", Range: window(10, 11), Plan: booking.Hourly})
	if !errors.Is(err, bike.ErrNotAvailable) {
		t.Errorf("expected ErrNotAvailable for bike in repair, got %v", err)
	}
}

func TestCreate_ConcurrentOverlapsAdmitOne(t *testing.T) {
	m, _, bikeID := setup(t, 20)
	ctx := context.Background()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every request overlaps every other one at 11:00-12:00.
			_, err := m.Create(ctx, booking.Request{
				BikeID: bikeID,
				UserID: uuid.NewString(),
				Range:  window(10+i%2, 12+i%2),
				Plan:   booking.Hourly,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, booking.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || conflicts != n-1 {
		t.Errorf("expected 1 created and %d conflicts, got %d and %d", n-1, created, conflicts)
	}
}

func TestCancel_ReleasesWindowWithoutTouchingBike(t *testing.T) {
	m, db, bikeID := setup(t, 20)
	ctx := context.Background()

	b, err := m.Create(ctx, booking.Request{BikeID: bikeID, UserID: "user-1", Range: window(10, 12), Plan: booking.Hourly})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before, _ := db.Bikes().Get(ctx, bikeID)

	if _, err := m.Cancel(ctx, b.ID, "user-2"); !errors.Is(err, booking.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized for another user, got %v", err)
	}

	cancelled, err := m.Cancel(ctx, b.ID, "user-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != booking.StatusCancelled {
		t.Errorf("expected status %s, got %s", booking.StatusCancelled, cancelled.Status)
	}
	if _, err := m.Cancel(ctx, b.ID, "user-1"); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second cancel, got %v", err)
	}

	after, _ := db.Bikes().Get(ctx, bikeID)
	if before.Locked != after.Locked || before.Available != after.Available || before.InUse != after.InUse {
		t.Errorf("expected bike flags unchanged, got %+v -> %+v", before, after)
	}

	ok, err := m.CheckAvailability(ctx, bikeID, window(10, 12))
	if err != nil || !ok {
		t.Errorf("expected window to be free after cancel, got %v, %v", ok, err)
	}
}

func TestLifecycle_ConfirmComplete(t *testing.T) {
	m, _, bikeID := setup(t, 20)
	ctx := context.Background()

	b, err := m.Create(ctx, booking.Request{BikeID: bikeID, UserID: "user-1", Range: window(10, 12), Plan: booking.Daily})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Complete(ctx, b.ID); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Errorf("expected PENDING -> COMPLETED to be rejected, got %v", err)
	}
	if b, err = m.Confirm(ctx, b.ID); err != nil || b.Status != booking.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s, %v", b.Status, err)
	}
	if b, err = m.Complete(ctx, b.ID); err != nil || b.Status != booking.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s, %v", b.Status, err)
	}

	list, err := m.ListByUser(ctx, "user-1")
	if err != nil || len(list) != 1 || list[0].Status != booking.StatusCompleted {
		t.Errorf("expected one completed booking for user-1, got %+v, %v", list, err)
	}
	if _, err := m.Get(ctx, uuid.New()); !errors.Is(err, booking.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
