package booking

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("booking not found")
	ErrConflict          = errors.New("booking overlaps with existing booking")
	ErrInvalidRange      = errors.New("booking end must be after its start")
	ErrInvalidPlan       = errors.New("invalid pricing plan")
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrNotAuthorized     = errors.New("not authorized to modify this booking")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Holds reports whether a booking in this status occupies its time window.
func (s Status) Holds() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Booking struct {
	ID         uuid.UUID `db:"id" json:"id"`
	BikeID     uuid.UUID `db:"bike_id" json:"bikeId"`
	UserID     string    `db:"user_id" json:"userId"`
	StartTime  time.Time `db:"start_time" json:"startDate"`
	EndTime    time.Time `db:"end_time" json:"endDate"`
	Status     Status    `db:"status" json:"status"`
	TotalPrice float64   `db:"total_price" json:"totalPrice"`
	Hourly     bool      `db:"is_hourly" json:"isHourly"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

func (b Booking) Range() Range {
	return Range{Start: b.StartTime, End: b.EndTime}
}

// Range is the half-open window [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Validate() error {
	if r.Start.IsZero() || !r.End.After(r.Start) {
		return ErrInvalidRange
	}
	return nil
}

// Overlaps reports whether two half-open windows share any instant.
// Back-to-back windows do not overlap.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

type Plan string

const (
	Hourly Plan = "hourly"
	Daily  Plan = "daily"
)

func (p Plan) Valid() bool {
	return p == Hourly || p == Daily
}

const day = 24 * time.Hour

// Price is hours x rate for hourly plans. Daily plans bill whole days of 24
// hours each, counting a started day: floor(duration/day) + 1.
func Price(p Plan, r Range, hourlyRate float64) float64 {
	d := r.End.Sub(r.Start)

	var price float64
	switch p {
	case Daily:
		days := math.Floor(float64(d)/float64(day)) + 1
		price = days * hourlyRate * 24
	default:
		price = d.Hours() * hourlyRate
	}
	return math.Round(price*100) / 100
}
