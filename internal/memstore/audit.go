package memstore

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/audit"
	"github.com/rencelibrando/infoma-sub004/bike"
)

// Audit implements audit.Store.
type Audit struct{ db *DB }

func (db *DB) Audit() *Audit { return &Audit{db: db} }

func (s *Audit) Bikes(ctx context.Context) ([]bike.Record, error) {
	return s.db.Bikes().List(ctx)
}

func (s *Audit) PendingRestores(ctx context.Context) ([]bike.PendingRestore, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]bike.PendingRestore, 0, len(s.db.restores))
	for _, p := range s.db.restores {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b bike.PendingRestore) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *Audit) Update(ctx context.Context, bikeID uuid.UUID, fn func(ctx context.Context, tx audit.Tx) error) error {
	return s.db.update(bikeID, func(t *tx) error {
		return fn(ctx, auditTx{t})
	})
}

type auditTx struct{ *tx }

func (t auditTx) Bike(ctx context.Context) (bike.Record, error) {
	return t.bike, nil
}

func (t auditTx) SaveRecord(ctx context.Context, rec bike.Record) error {
	b, err := bike.Load(rec)
	if err != nil {
		return err
	}
	return t.saveBike(b)
}

func (t auditTx) SaveBike(ctx context.Context, b bike.Bike) error {
	return t.saveBike(b)
}

func (t auditTx) ClearRestore(ctx context.Context, id uuid.UUID) error {
	t.cleared = append(t.cleared, id)
	return nil
}
