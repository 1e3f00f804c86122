package bike

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rencelibrando/infoma-sub004/internal/pg"
	"github.com/rencelibrando/infoma-sub004/internal/txn"
)

type Repository struct {
	db     *sqlx.DB
	policy txn.Policy
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, policy: txn.DefaultPolicy()}
}

func (r *Repository) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := r.db.SelectContext(ctx, &records, listBikes)
	return records, err
}

const listBikes = `SELECT * FROM bikes ORDER BY label`

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return Get(ctx, r.db, id)
}

func (r *Repository) Create(ctx context.Context, b Bike) error {
	rec := b.Record()
	_, err := r.db.NamedExecContext(ctx, createBike, rec)
	if err != nil {
		return err
	}
	return notify(ctx, r.db, b)
}

const createBike = `
INSERT INTO bikes (id, label, location, hourly_rate, battery_level, maintenance_status, maintenance_notes,
                   current_rider_id, locked, available, in_use, updated_at)
VALUES (:id, :label, :location, :hourly_rate, :battery_level, :maintenance_status, :maintenance_notes,
        :current_rider_id, :locked, :available, :in_use, now())
`

// Transition applies fn to the locked bike and saves the result.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, fn func(Bike) (Bike, error)) (Bike, error) {
	var next Bike
	err := pg.InTx(ctx, r.db, r.policy, func(ctx context.Context, tx *sqlx.Tx) error {
		rec, err := GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		cur, err := Load(rec)
		if err != nil {
			return err
		}
		if next, err = fn(cur); err != nil {
			return err
		}
		return Save(ctx, tx, next)
	})
	return next, err
}

// Get reads a bike with q, which may be the pool or an open transaction.
func Get(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (Record, error) {
	var rec Record
	err := sqlx.GetContext(ctx, q, &rec, getBike, id)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	return rec, err
}

const getBike = `SELECT * FROM bikes WHERE id = $1`

// GetForUpdate locks the bike row for the rest of the transaction. Every
// transaction that changes a bike or its bookings takes this lock first, so
// writers for one bike are serialized.
func GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (Record, error) {
	var rec Record
	err := tx.GetContext(ctx, &rec, getBikeForUpdate, id)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	return rec, err
}

const getBikeForUpdate = `SELECT * FROM bikes WHERE id = $1 FOR UPDATE`

// Save writes the bike's state and notifies listeners on the "bikes" channel.
func Save(ctx context.Context, e sqlx.ExtContext, b Bike) error {
	if err := saveRecord(ctx, e, b.Record()); err != nil {
		return err
	}
	return notify(ctx, e, b)
}

func saveRecord(ctx context.Context, e sqlx.ExtContext, rec Record) error {
	res, err := sqlx.NamedExecContext(ctx, e, saveBike, rec)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const saveBike = `
UPDATE bikes SET
    location = :location,
    maintenance_status = :maintenance_status,
    maintenance_notes = :maintenance_notes,
    current_rider_id = :current_rider_id,
    locked = :locked,
    available = :available,
    in_use = :in_use,
    updated_at = now()
WHERE id = :id
`

func notify(ctx context.Context, e sqlx.ExecerContext, b Bike) error {
	payload, err := b.MarshalEvent()
	if err != nil {
		return err
	}
	_, err = e.ExecContext(ctx, notifyBike, string(payload))
	return err
}

const notifyBike = `SELECT pg_notify('bikes', $1)`

func (r *Repository) PendingRestores(ctx context.Context) ([]PendingRestore, error) {
	var restores []PendingRestore
	err := r.db.SelectContext(ctx, &restores, pendingRestores)
	return restores, err
}

const pendingRestores = `SELECT * FROM bike_restores ORDER BY created_at`

// FlagRestore queues a bike for the auditor after a failed restore.
func (r *Repository) FlagRestore(ctx context.Context, p PendingRestore) error {
	_, err := r.db.NamedExecContext(ctx, flagRestore, p)
	return err
}

const flagRestore = `
INSERT INTO bike_restores (id, bike_id, ride_id, rider_id, reason, created_at)
VALUES (:id, :bike_id, :ride_id, :rider_id, :reason, now())
ON CONFLICT (ride_id) DO NOTHING
`

func ClearRestore(ctx context.Context, e sqlx.ExecerContext, id uuid.UUID) error {
	_, err := e.ExecContext(ctx, clearRestore, id)
	return err
}

const clearRestore = `DELETE FROM bike_restores WHERE id = $1`
