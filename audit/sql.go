package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/internal/pg"
	"github.com/rencelibrando/infoma-sub004/internal/txn"
)

type Repository struct {
	db     *sqlx.DB
	policy txn.Policy
	bikes  *bike.Repository
}

func NewRepository(db *sqlx.DB, policy txn.Policy) *Repository {
	return &Repository{db: db, policy: policy, bikes: bike.NewRepository(db)}
}

func (r *Repository) Bikes(ctx context.Context) ([]bike.Record, error) {
	return r.bikes.List(ctx)
}

func (r *Repository) PendingRestores(ctx context.Context) ([]bike.PendingRestore, error) {
	return r.bikes.PendingRestores(ctx)
}

func (r *Repository) Update(ctx context.Context, bikeID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	return pg.InTx(ctx, r.db, r.policy, func(ctx context.Context, tx *sqlx.Tx) error {
		rec, err := bike.GetForUpdate(ctx, tx, bikeID)
		if err != nil {
			return err
		}
		return fn(ctx, &sqlTx{tx: tx, rec: rec})
	})
}

type sqlTx struct {
	tx  *sqlx.Tx
	rec bike.Record
}

func (t *sqlTx) Bike(ctx context.Context) (bike.Record, error) {
	return t.rec, nil
}

// SaveRecord writes repaired flags. The repaired record is always legal, so
// it is published the same way as a regular transition.
func (t *sqlTx) SaveRecord(ctx context.Context, rec bike.Record) error {
	b, err := bike.Load(rec)
	if err != nil {
		return err
	}
	return t.SaveBike(ctx, b)
}

func (t *sqlTx) SaveBike(ctx context.Context, b bike.Bike) error {
	if err := bike.Save(ctx, t.tx, b); err != nil {
		return err
	}
	t.rec = b.Record()
	return nil
}

func (t *sqlTx) ClearRestore(ctx context.Context, id uuid.UUID) error {
	return bike.ClearRestore(ctx, t.tx, id)
}
