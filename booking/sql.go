package booking

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/internal/pg"
	"github.com/rencelibrando/infoma-sub004/internal/txn"
)

type Repository struct {
	db     *sqlx.DB
	policy txn.Policy
}

func NewRepository(db *sqlx.DB, policy txn.Policy) *Repository {
	return &Repository{db: db, policy: policy}
}

func (r *Repository) Bike(ctx context.Context, id uuid.UUID) (bike.Record, error) {
	return bike.Get(ctx, r.db, id)
}

func (r *Repository) Booking(ctx context.Context, id uuid.UUID) (Booking, error) {
	var b Booking
	err := r.db.GetContext(ctx, &b, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

const getByIDQuery = `SELECT * FROM bookings WHERE id = $1`

func (r *Repository) Holding(ctx context.Context, bikeID uuid.UUID, rng Range) ([]Booking, error) {
	var bookings []Booking
	err := r.db.SelectContext(ctx, &bookings, holdingQuery, bikeID, rng.Start, rng.End)
	return bookings, err
}

const holdingQuery = `
SELECT * FROM bookings
WHERE bike_id = $1
  AND status IN ('PENDING', 'CONFIRMED')
  AND start_time < $3
  AND end_time > $2
ORDER BY start_time ASC
`

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Booking, error) {
	var bookings []Booking
	err := r.db.SelectContext(ctx, &bookings, listByUserQuery, userID)
	return bookings, err
}

const listByUserQuery = `SELECT * FROM bookings WHERE user_id = $1 ORDER BY start_time ASC`

func (r *Repository) ListByBike(ctx context.Context, bikeID uuid.UUID) ([]Booking, error) {
	var bookings []Booking
	err := r.db.SelectContext(ctx, &bookings, listByBikeQuery, bikeID)
	return bookings, err
}

const listByBikeQuery = `SELECT * FROM bookings WHERE bike_id = $1 ORDER BY start_time ASC`

// Update locks the bike row, then hands fn a view of that bike's bookings.
// The exclusion constraint on bookings backs up the overlap check.
func (r *Repository) Update(ctx context.Context, bikeID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	err := pg.InTx(ctx, r.db, r.policy, func(ctx context.Context, tx *sqlx.Tx) error {
		rec, err := bike.GetForUpdate(ctx, tx, bikeID)
		if err != nil {
			return err
		}
		return fn(ctx, &sqlTx{tx: tx, bike: rec})
	})
	if pg.IsExclusionViolation(err) {
		return ErrConflict
	}
	return err
}

type sqlTx struct {
	tx   *sqlx.Tx
	bike bike.Record
}

func (t *sqlTx) Bike(ctx context.Context) (bike.Record, error) {
	return t.bike, nil
}

func (t *sqlTx) Holding(ctx context.Context, rng Range) ([]Booking, error) {
	var bookings []Booking
	err := t.tx.SelectContext(ctx, &bookings, holdingQuery+" FOR UPDATE", t.bike.ID, rng.Start, rng.End)
	return bookings, err
}

func (t *sqlTx) Booking(ctx context.Context, id uuid.UUID) (Booking, error) {
	var b Booking
	err := t.tx.GetContext(ctx, &b, getForUpdateQuery, id, t.bike.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

const getForUpdateQuery = `SELECT * FROM bookings WHERE id = $1 AND bike_id = $2 FOR UPDATE`

func (t *sqlTx) Insert(ctx context.Context, b *Booking) error {
	err := t.tx.GetContext(ctx, b, insertQuery,
		b.ID, b.BikeID, b.UserID, b.StartTime, b.EndTime, b.Status, b.TotalPrice, b.Hourly)
	if err != nil {
		return err
	}
	return notify(ctx, t.tx, *b)
}

const insertQuery = `
INSERT INTO bookings (id, bike_id, user_id, start_time, end_time, status, total_price, is_hourly, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
RETURNING *
`

func (t *sqlTx) SetStatus(ctx context.Context, id uuid.UUID, s Status) (Booking, error) {
	var b Booking
	if err := t.tx.GetContext(ctx, &b, setStatusQuery, id, s); err != nil {
		return Booking{}, err
	}
	return b, notify(ctx, t.tx, b)
}

const setStatusQuery = `UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1 RETURNING *`

func notify(ctx context.Context, e sqlx.ExecerContext, b Booking) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = e.ExecContext(ctx, notifyQuery, string(payload))
	return err
}

const notifyQuery = `SELECT pg_notify('bookings', $1)`
