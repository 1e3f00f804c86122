// Package audit sweeps the fleet for bikes whose stored flags break the state
// machine invariants and repairs them.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/internal/o11y"
)

type Store interface {
	Bikes(ctx context.Context) ([]bike.Record, error)
	PendingRestores(ctx context.Context) ([]bike.PendingRestore, error)
	Update(ctx context.Context, bikeID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	Bike(ctx context.Context) (bike.Record, error)
	SaveRecord(ctx context.Context, rec bike.Record) error
	SaveBike(ctx context.Context, b bike.Bike) error
	ClearRestore(ctx context.Context, id uuid.UUID) error
}

type Flags struct {
	Locked    bool `json:"locked"`
	Available bool `json:"available"`
	InUse     bool `json:"inUse"`
}

func flagsOf(r bike.Record) Flags {
	return Flags{Locked: r.Locked, Available: r.Available, InUse: r.InUse}
}

type Repair struct {
	BikeID     uuid.UUID        `json:"bikeId"`
	Label      string           `json:"label"`
	Violations []bike.Violation `json:"violations"`
	Before     Flags            `json:"before"`
	After      Flags            `json:"after"`
}

type Failure struct {
	BikeID uuid.UUID `json:"bikeId"`
	Error  string    `json:"error"`
}

type Report struct {
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	Checked    int         `json:"checked"`
	Repaired   []Repair    `json:"repaired"`
	Restored   []uuid.UUID `json:"restored"`
	Failed     []Failure   `json:"failed"`
}

// Changed reports whether the sweep wrote anything.
func (r Report) Changed() bool {
	return len(r.Repaired) > 0 || len(r.Restored) > 0
}

type Auditor struct {
	store   Store
	logger  *slog.Logger
	metrics *o11y.Metrics
	tracer  trace.Tracer
}

func New(store Store, logger *slog.Logger, metrics *o11y.Metrics) *Auditor {
	return &Auditor{
		store:   store,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("audit"),
	}
}

// Sweep repairs every bike that breaks an invariant, then returns bikes left
// in use by a failed ride end to service. A second sweep over the result
// changes nothing. Per-bike failures are reported and do not stop the sweep;
// the returned error is only set when the fleet could not be read.
func (a *Auditor) Sweep(ctx context.Context) (Report, error) {
	ctx, span := a.tracer.Start(ctx, "audit.Sweep")
	defer span.End()

	report := Report{StartedAt: time.Now()}

	records, err := a.store.Bikes(ctx)
	if err != nil {
		return report, err
	}
	report.Checked = len(records)

	for _, rec := range records {
		if len(bike.Check(rec)) == 0 {
			continue
		}
		rep, err := a.repair(ctx, rec.ID)
		if err != nil {
			report.Failed = append(report.Failed, Failure{BikeID: rec.ID, Error: err.Error()})
			continue
		}
		if rep != nil {
			report.Repaired = append(report.Repaired, *rep)
		}
	}

	restores, err := a.store.PendingRestores(ctx)
	if err != nil {
		return report, err
	}
	for _, p := range restores {
		restored, err := a.restore(ctx, p)
		if err != nil {
			report.Failed = append(report.Failed, Failure{BikeID: p.BikeID, Error: err.Error()})
			continue
		}
		if restored {
			report.Restored = append(report.Restored, p.BikeID)
		}
	}

	report.FinishedAt = time.Now()
	a.metrics.Repaired("invariant", len(report.Repaired))
	a.metrics.Repaired("restore", len(report.Restored))
	span.SetAttributes(
		attribute.Int("audit.checked", report.Checked),
		attribute.Int("audit.repaired", len(report.Repaired)),
		attribute.Int("audit.restored", len(report.Restored)),
	)

	level := slog.LevelInfo
	if len(report.Failed) > 0 {
		level = slog.LevelWarn
	}
	a.logger.Log(ctx, level, "consistency sweep finished",
		slog.Int("checked", report.Checked),
		slog.Int("repaired", len(report.Repaired)),
		slog.Int("restored", len(report.Restored)),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// repair re-reads the bike under its lock, since it may have been fixed by a
// regular transition after the fleet was listed.
func (a *Auditor) repair(ctx context.Context, id uuid.UUID) (*Repair, error) {
	var rep *Repair
	err := a.store.Update(ctx, id, func(ctx context.Context, tx Tx) error {
		rep = nil
		rec, err := tx.Bike(ctx)
		if err != nil {
			return err
		}
		violations := bike.Check(rec)
		fixed, changed := bike.Repair(rec)
		if !changed {
			return nil
		}
		if err := tx.SaveRecord(ctx, fixed); err != nil {
			return err
		}
		rep = &Repair{
			BikeID:     id,
			Label:      rec.Label,
			Violations: violations,
			Before:     flagsOf(rec),
			After:      flagsOf(fixed),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rep != nil {
		a.logger.WarnContext(ctx, "repaired inconsistent bike",
			slog.String("bike_id", id.String()),
			slog.Any("violations", rep.Violations),
		)
	}
	return rep, nil
}

// restore ends the use left behind by a ride whose bike restore failed. The
// queue entry is cleared either way once the bike is no longer held by that
// rider.
func (a *Auditor) restore(ctx context.Context, p bike.PendingRestore) (bool, error) {
	var restored bool
	err := a.store.Update(ctx, p.BikeID, func(ctx context.Context, tx Tx) error {
		restored = false
		rec, err := tx.Bike(ctx)
		if err != nil {
			return err
		}
		b, err := bike.Load(rec)
		if err != nil {
			return err
		}
		if b.InUse() && b.CurrentRiderID == p.RiderID {
			if b, err = b.EndUse(); err != nil {
				return err
			}
			if err := tx.SaveBike(ctx, b); err != nil {
				return err
			}
			restored = true
		}
		return tx.ClearRestore(ctx, p.ID)
	})
	if err == nil && restored {
		a.logger.InfoContext(ctx, "restored bike after failed ride end",
			slog.String("bike_id", p.BikeID.String()),
			slog.String("ride_id", p.RideID.String()),
		)
	}
	return restored, err
}
