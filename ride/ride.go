package ride

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Millis is a sample timestamp. Devices send either epoch milliseconds or an
// RFC 3339 string; both decode to the same instant, and it always encodes as
// epoch milliseconds.
type Millis struct {
	time.Time
}

func At(t time.Time) Millis {
	return Millis{Time: t.Truncate(time.Millisecond)}
}

func (m Millis) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, m.UnixMilli(), 10), nil
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			m.Time = time.UnixMilli(ms).UTC()
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		*m = At(t)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	m.Time = time.UnixMilli(int64(f)).UTC()
	return nil
}

// LocationSample is one telemetry reading. Speed is in metres per second.
type LocationSample struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Timestamp Millis  `json:"timestamp"`
	Speed     float64 `json:"speed" validate:"gte=0"`
	Accuracy  float64 `json:"accuracy" validate:"gte=0"`
	Bearing   float64 `json:"bearing" validate:"gte=0,lte=360"`
}

// StoredSample is a durable sample at its 1-based position in the path.
type StoredSample struct {
	Seq int
	LocationSample
}

// NullSample stores an optional sample as jsonb.
type NullSample struct {
	Sample LocationSample
	Valid  bool
}

func (n *NullSample) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		n.Valid = false
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into NullSample", src)
	}
	n.Valid = true
	return json.Unmarshal(data, &n.Sample)
}

func (n NullSample) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	b, err := json.Marshal(n.Sample)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Stats are the running figures derived from a ride's path.
type Stats struct {
	// DistanceTraveled is in metres.
	DistanceTraveled float64    `db:"distance_m" json:"distanceTraveled"`
	MaxSpeed         float64    `db:"max_speed" json:"maxSpeed"`
	CurrentSpeed     float64    `db:"current_speed" json:"currentSpeed"`
	SampleCount      int        `db:"sample_count" json:"sampleCount"`
	LastSample       NullSample `db:"last_sample" json:"-"`
}

type Ride struct {
	ID         uuid.UUID    `db:"id"`
	BikeID     uuid.UUID    `db:"bike_id"`
	UserID     string       `db:"user_id"`
	StartTime  time.Time    `db:"start_time"`
	EndTime    sql.NullTime `db:"end_time"`
	Status     Status       `db:"status"`
	HourlyRate float64      `db:"hourly_rate"`
	Cost       float64      `db:"cost"`
	UpdatedAt  time.Time    `db:"updated_at"`
	Stats

	Path []LocationSample `db:"-"`
}

// Event is the change notification published for a ride.
type Event struct {
	ID     uuid.UUID `json:"id"`
	BikeID uuid.UUID `json:"bikeId"`
	UserID string    `json:"userId"`
	Status Status    `json:"status"`
	Cost   float64   `json:"cost"`
}

func (r Ride) Event() Event {
	return Event{ID: r.ID, BikeID: r.BikeID, UserID: r.UserID, Status: r.Status, Cost: r.Cost}
}

// Apply appends a sample to the path and folds it into the statistics.
func (r *Ride) Apply(s LocationSample) {
	if r.LastSample.Valid {
		r.DistanceTraveled += Haversine(r.LastSample.Sample, s)
	}
	r.CurrentSpeed = s.Speed
	r.MaxSpeed = math.Max(r.MaxSpeed, s.Speed)
	r.SampleCount++
	r.LastSample = NullSample{Sample: s, Valid: true}
	r.Path = append(r.Path, s)
}

// Cost bills the ride duration at the hourly rate with a minimum billable
// fraction of an hour. Rounded to cents.
func Cost(d time.Duration, hourlyRate, minFraction float64) float64 {
	hours := math.Max(d.Hours(), minFraction)
	return math.Round(hours*hourlyRate*100) / 100
}

var (
	ErrNotFound      = errors.New("ride not found")
	ErrNotActive     = errors.New("ride not active")
	ErrRiderBusy     = errors.New("rider already has an active ride")
	ErrInvalidSample = errors.New("invalid location sample")
)

type rideInProgressError struct {
	ride Ride
}

func (e *rideInProgressError) Error() string {
	return "ride " + e.ride.ID.String() + " in progress for rider " + e.ride.UserID
}

func (e *rideInProgressError) Is(target error) bool {
	return target == ErrRiderBusy
}

// ActiveRideFromError returns the ride that blocked a start.
func ActiveRideFromError(err error) (Ride, bool) {
	var riperr *rideInProgressError
	if errors.As(err, &riperr) {
		return riperr.ride, true
	}
	return Ride{}, false
}
