package ride

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/internal/pg"
	"github.com/rencelibrando/infoma-sub004/internal/txn"
)

type Repository struct {
	db     *sqlx.DB
	policy txn.Policy
	bikes  *bike.Repository
}

func NewRepository(db *sqlx.DB, policy txn.Policy) *Repository {
	return &Repository{
		db:     db,
		policy: policy,
		bikes:  bike.NewRepository(db),
	}
}

func (r *Repository) Ride(ctx context.Context, id uuid.UUID) (Ride, error) {
	var ride Ride
	err := r.db.GetContext(ctx, &ride, getRideQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Ride{}, ErrNotFound
	}
	return ride, err
}

const getRideQuery = `SELECT * FROM rides WHERE id = $1`

func (r *Repository) ActiveByUser(ctx context.Context, userID string) (Ride, error) {
	var ride Ride
	err := r.db.GetContext(ctx, &ride, activeByUserQuery, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Ride{}, ErrNotFound
	}
	return ride, err
}

const activeByUserQuery = `SELECT * FROM rides WHERE user_id = $1 AND status = 'active'`

type historyRow struct {
	RideID    uuid.UUID    `db:"ride_id"`
	UserID    string       `db:"user_id"`
	BikeID    uuid.UUID    `db:"bike_id"`
	StartTime sql.NullTime `db:"start_time"`
	EndTime   sql.NullTime `db:"end_time"`
	Status    Status       `db:"status"`
	Distance  float64      `db:"distance_m"`
	MaxSpeed  float64      `db:"max_speed"`
	Samples   int          `db:"sample_count"`
	Cost      float64      `db:"cost"`
	Path      []byte       `db:"path"`
}

func (r *Repository) History(ctx context.Context, userID string) ([]Ride, error) {
	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, historyQuery, userID); err != nil {
		return nil, err
	}

	rides := make([]Ride, 0, len(rows))
	for _, row := range rows {
		ride := Ride{
			ID:        row.RideID,
			BikeID:    row.BikeID,
			UserID:    row.UserID,
			StartTime: row.StartTime.Time,
			EndTime:   row.EndTime,
			Status:    row.Status,
			Cost:      row.Cost,
		}
		ride.DistanceTraveled = row.Distance
		ride.MaxSpeed = row.MaxSpeed
		if err := json.Unmarshal(row.Path, &ride.Path); err != nil {
			return nil, err
		}
		ride.SampleCount = row.Samples
		rides = append(rides, ride)
	}
	return rides, nil
}

const historyQuery = `
SELECT ride_id, user_id, bike_id, start_time, end_time, status, distance_m, max_speed, sample_count, cost, path
FROM ride_history
WHERE user_id = $1
ORDER BY start_time DESC
`

func (r *Repository) Update(ctx context.Context, bikeID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	return pg.InTx(ctx, r.db, r.policy, func(ctx context.Context, tx *sqlx.Tx) error {
		rec, err := bike.GetForUpdate(ctx, tx, bikeID)
		if err != nil {
			return err
		}
		return fn(ctx, &sqlTx{tx: tx, bike: rec})
	})
}

func (r *Repository) Finish(ctx context.Context, ride Ride) error {
	path, err := json.Marshal(ride.Path)
	if err != nil {
		return err
	}

	return pg.InTx(ctx, r.db, r.policy, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, finishRideQuery, ride)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotActive
		}

		_, err = tx.ExecContext(ctx, archiveRideQuery,
			ride.ID, ride.UserID, ride.BikeID, ride.StartTime, ride.EndTime, ride.Status,
			ride.DistanceTraveled, ride.MaxSpeed, ride.SampleCount, ride.Cost, string(path))
		if err != nil {
			return err
		}
		return notify(ctx, tx, ride)
	})
}

const finishRideQuery = `
UPDATE rides SET
    status = :status,
    end_time = :end_time,
    cost = :cost,
    distance_m = :distance_m,
    max_speed = :max_speed,
    current_speed = :current_speed,
    sample_count = :sample_count,
    last_sample = :last_sample,
    updated_at = now()
WHERE id = :id AND status = 'active'
`

const archiveRideQuery = `
INSERT INTO ride_history (ride_id, user_id, bike_id, start_time, end_time, status, distance_m, max_speed, sample_count, cost, path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

func (r *Repository) FlagRestore(ctx context.Context, p bike.PendingRestore) error {
	return r.bikes.FlagRestore(ctx, p)
}

// AppendSample persists one throttled telemetry sample.
func (r *Repository) AppendSample(ctx context.Context, rideID uuid.UUID, seq int, s LocationSample) error {
	_, err := r.db.ExecContext(ctx, appendSampleQuery,
		rideID, seq, s.Latitude, s.Longitude, s.Timestamp.Time, s.Speed, s.Accuracy, s.Bearing)
	return err
}

const appendSampleQuery = `
INSERT INTO ride_samples (ride_id, seq, latitude, longitude, ts, speed, accuracy, bearing)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (ride_id, seq) DO NOTHING
`

type sampleRow struct {
	Seq       int       `db:"seq"`
	Latitude  float64   `db:"latitude"`
	Longitude float64   `db:"longitude"`
	TS        time.Time `db:"ts"`
	Speed     float64   `db:"speed"`
	Accuracy  float64   `db:"accuracy"`
	Bearing   float64   `db:"bearing"`
}

func (r *Repository) Samples(ctx context.Context, rideID uuid.UUID) ([]StoredSample, error) {
	var rows []sampleRow
	if err := r.db.SelectContext(ctx, &rows, samplesQuery, rideID); err != nil {
		return nil, err
	}
	out := make([]StoredSample, 0, len(rows))
	for _, row := range rows {
		out = append(out, StoredSample{
			Seq: row.Seq,
			LocationSample: LocationSample{
				Latitude:  row.Latitude,
				Longitude: row.Longitude,
				Timestamp: At(row.TS),
				Speed:     row.Speed,
				Accuracy:  row.Accuracy,
				Bearing:   row.Bearing,
			},
		})
	}
	return out, nil
}

const samplesQuery = `
SELECT seq, latitude, longitude, ts, speed, accuracy, bearing
FROM ride_samples
WHERE ride_id = $1
ORDER BY seq
`

// SaveProgress updates the running statistics of an active ride. Terminal
// rides are left untouched.
func (r *Repository) SaveProgress(ctx context.Context, rideID uuid.UUID, st Stats) error {
	_, err := r.db.ExecContext(ctx, saveProgressQuery,
		rideID, st.DistanceTraveled, st.MaxSpeed, st.CurrentSpeed, st.SampleCount, st.LastSample)
	return err
}

const saveProgressQuery = `
UPDATE rides SET
    distance_m = $2,
    max_speed = $3,
    current_speed = $4,
    sample_count = $5,
    last_sample = $6,
    updated_at = now()
WHERE id = $1 AND status = 'active' AND sample_count <= $5
`

type sqlTx struct {
	tx   *sqlx.Tx
	bike bike.Record
}

func (t *sqlTx) Bike(ctx context.Context) (bike.Record, error) {
	return t.bike, nil
}

func (t *sqlTx) SaveBike(ctx context.Context, b bike.Bike) error {
	if err := bike.Save(ctx, t.tx, b); err != nil {
		return err
	}
	t.bike = b.Record()
	return nil
}

func (t *sqlTx) ActiveByUser(ctx context.Context, userID string) (Ride, bool, error) {
	var ride Ride
	err := t.tx.GetContext(ctx, &ride, activeByUserQuery+" FOR UPDATE", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Ride{}, false, nil
	}
	if err != nil {
		return Ride{}, false, err
	}
	return ride, true, nil
}

func (t *sqlTx) Holding(ctx context.Context, rng booking.Range) ([]booking.Booking, error) {
	var bookings []booking.Booking
	err := t.tx.SelectContext(ctx, &bookings, holdingQuery, t.bike.ID, rng.Start, rng.End)
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

func (t *sqlTx) Insert(ctx context.Context, ride *Ride) error {
	_, err := t.tx.NamedExecContext(ctx, insertRideQuery, ride)
	if err != nil {
		return err
	}
	return notify(ctx, t.tx, *ride)
}

const insertRideQuery = `
INSERT INTO rides (id, bike_id, user_id, start_time, status, hourly_rate, distance_m, max_speed, current_speed,
                   cost, sample_count, last_sample, updated_at)
VALUES (:id, :bike_id, :user_id, :start_time, :status, :hourly_rate, :distance_m, :max_speed, :current_speed,
        :cost, :sample_count, :last_sample, now())
`

func notify(ctx context.Context, e sqlx.ExecerContext, ride Ride) error {
	payload, err := json.Marshal(ride.Event())
	if err != nil {
		return err
	}
	_, err = e.ExecContext(ctx, notifyQuery, string(payload))
	return err
}

const notifyQuery = `SELECT pg_notify('rides', $1)`
