package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rencelibrando/infoma-sub004/api"
	"github.com/rencelibrando/infoma-sub004/audit"
	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/internal/live"
	"github.com/rencelibrando/infoma-sub004/internal/memstore"
	"github.com/rencelibrando/infoma-sub004/internal/pg"
	"github.com/rencelibrando/infoma-sub004/internal/watch"
	"github.com/rencelibrando/infoma-sub004/ride"
	"github.com/rencelibrando/infoma-sub004/telemetry"
)

// backend is one durable store plus the live store, behind the interfaces
// the core components take.
type backend struct {
	fleet    api.Fleet
	bookings booking.Store
	rides    ride.Store
	samples  telemetry.SampleWriter
	audit    audit.Store
	durable  watch.Source
	live     live.Store

	closers []func() error
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, g *Globals, logger *slog.Logger) (*backend, error) {
	b := &backend{}

	switch g.Store {
	case "memory":
		db := memstore.New()
		if err := seed(ctx, db.Bikes(), g.SeedBikes); err != nil {
			return nil, err
		}
		b.fleet = db.Bikes()
		b.bookings = db.Bookings()
		b.rides = db.Rides()
		b.samples = db.Rides()
		b.audit = db.Audit()
		b.durable = db
	default:
		db, err := sqlx.ConnectContext(ctx, "pgx", g.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		b.closers = append(b.closers, db.Close)

		policy := g.policy()
		rides := ride.NewRepository(db, policy)
		b.fleet = bike.NewRepository(db)
		b.bookings = booking.NewRepository(db, policy)
		b.rides = rides
		b.samples = rides
		b.audit = audit.NewRepository(db, policy)
		b.durable = pg.NewListener(g.DatabaseURL, logger)
	}

	if g.RedisURL != "" {
		r, err := live.Connect(ctx, g.RedisURL)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.closers = append(b.closers, r.Close)
		b.live = r
	} else {
		b.live = live.NewMemory()
	}
	return b, nil
}

func seed(ctx context.Context, fleet *memstore.Bikes, n int) error {
	for i := range n {
		b := bike.New(bike.Details{
			ID:           uuid.New(),
			Label:        fmt.Sprintf("BIKE-%03d", i+1),
			Location:     bike.Point(14.5995, 120.9842),
			HourlyRate:   50,
			BatteryLevel: 100,
		})
		if err := fleet.Create(ctx, b); err != nil {
			return err
		}
	}
	return nil
}
