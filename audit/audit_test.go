package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/audit"
	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/internal/memstore"
	"github.com/rencelibrando/infoma-sub004/ride"
	"github.com/rencelibrando/infoma-sub004/telemetry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func corrupt(label string, locked, available, inUse bool, m bike.MaintenanceStatus) bike.Record {
	return bike.Record{
		Details: bike.Details{
			ID:          uuid.New(),
			Label:       label,
			HourlyRate:  20,
			Maintenance: m,
		},
		Locked:    locked,
		Available: available,
		InUse:     inUse,
	}
}

func TestSweep_RepairsCorruptFlags(t *testing.T) {
	db := memstore.New()
	ctx := context.Background()

	records := []bike.Record{
		corrupt("available-unlocked", false, true, false, bike.Operational),
		corrupt("in-use-locked", true, false, true, bike.Operational),
		corrupt("available-in-repair", true, true, false, bike.UnderRepair),
		corrupt("healthy", true, true, false, bike.Operational),
	}
	for _, rec := range records {
		db.PutRecord(rec)
	}

	a := audit.New(db.Audit(), discard, nil)
	report, err := a.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Checked != 4 || len(report.Repaired) != 3 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report:\n%s", spew.Sdump(report))
	}

	want := map[string]audit.Flags{
		"available-unlocked":  {Locked: true, Available: true},
		"in-use-locked":       {InUse: true},
		"available-in-repair": {Locked: true},
		"healthy":             {Locked: true, Available: true},
	}
	for _, rec := range records {
		got, err := db.Bikes().Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("get %s: %v", rec.Label, err)
		}
		if v := bike.Check(got); len(v) > 0 {
			t.Errorf("%s still violates %v", rec.Label, v)
		}
		flags := audit.Flags{Locked: got.Locked, Available: got.Available, InUse: got.InUse}
		if flags != want[rec.Label] {
			t.Errorf("%s: expected %+v, got %+v", rec.Label, want[rec.Label], flags)
		}
	}

	again, err := a.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if again.Changed() {
		t.Errorf("expected a second sweep to change nothing:\n%s", spew.Sdump(again))
	}
}

func TestSweep_RestoresBikeAfterFailedRideEnd(t *testing.T) {
	db := memstore.New()
	ctx := context.Background()

	b := bike.New(bike.Details{ID: uuid.New(), Label: "B1", HourlyRate: 20})
	if err := db.Bikes().Create(ctx, b); err != nil {
		t.Fatalf("create bike: %v", err)
	}

	rep := telemetry.NewReplicator(discard, nil, 1)
	t.Cleanup(rep.Close)
	tracker := ride.NewTracker(db.Rides(), rep, ride.DefaultConfig(), discard, nil)

	r, err := tracker.Start(ctx, b.ID, "user-1", ride.LocationSample{Latitude: 14, Longitude: 120})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	errStoreDown := errors.New("store unavailable")
	db.OnBikeWrite(func(b bike.Bike) error {
		if b.State() == bike.LockedAvailable {
			return errStoreDown
		}
		return nil
	})

	ended, err := tracker.End(ctx, r.ID, ride.LocationSample{Latitude: 14.001, Longitude: 120.001})
	if err != nil {
		t.Fatalf("expected End to complete despite the failed restore, got %v", err)
	}
	if ended.Status != ride.StatusCompleted {
		t.Errorf("expected completed ride, got %s", ended.Status)
	}

	rec, _ := db.Bikes().Get(ctx, b.ID)
	if !rec.InUse || rec.CurrentRiderID != "user-1" {
		t.Fatalf("expected bike still held after failed restore:\n%s", spew.Sdump(rec))
	}
	pending, err := db.Audit().PendingRestores(ctx)
	if err != nil || len(pending) != 1 || pending[0].RideID != r.ID {
		t.Fatalf("expected one pending restore for the ride:\n%s", spew.Sdump(pending))
	}

	a := audit.New(db.Audit(), discard, nil)

	report, err := a.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Restored) != 0 || len(report.Failed) != 1 {
		t.Errorf("expected the restore to fail while writes fail:\n%s", spew.Sdump(report))
	}

	db.OnBikeWrite(nil)

	report, err = a.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Restored) != 1 || report.Restored[0] != b.ID {
		t.Fatalf("expected bike restored:\n%s", spew.Sdump(report))
	}

	rec, _ = db.Bikes().Get(ctx, b.ID)
	if !rec.Locked || !rec.Available || rec.InUse || rec.CurrentRiderID != "" {
		t.Errorf("expected bike locked and available:\n%s", spew.Sdump(rec))
	}
	if pending, _ := db.Audit().PendingRestores(ctx); len(pending) != 0 {
		t.Errorf("expected restore queue drained:\n%s", spew.Sdump(pending))
	}

	if _, err := tracker.Start(ctx, b.ID, "user-2", ride.LocationSample{Latitude: 14, Longitude: 120}); err != nil {
		t.Errorf("expected the restored bike to be rentable, got %v", err)
	}
}

func TestSweep_StaleRestoreIsCleared(t *testing.T) {
	db := memstore.New()
	ctx := context.Background()

	b := bike.New(bike.Details{ID: uuid.New(), Label: "B1", HourlyRate: 20})
	if err := db.Bikes().Create(ctx, b); err != nil {
		t.Fatalf("create bike: %v", err)
	}
	if err := db.Rides().FlagRestore(ctx, bike.PendingRestore{
		ID:      uuid.New(),
		BikeID:  b.ID,
		RideID:  uuid.New(),
		RiderID: "user-1",
	}); err != nil {
		t.Fatalf("FlagRestore: %v", err)
	}

	report, err := audit.New(db.Audit(), discard, nil).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Changed() {
		t.Errorf("expected nothing to change for a bike already back in service:\n%s", spew.Sdump(report))
	}
	if pending, _ := db.Audit().PendingRestores(ctx); len(pending) != 0 {
		t.Errorf("expected stale restore cleared:\n%s", spew.Sdump(pending))
	}
}
