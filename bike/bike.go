// Package bike holds the canonical bike aggregate and the state machine that
// governs its lock, availability and in-use flags.
package bike

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type MaintenanceStatus string

const (
	Operational   MaintenanceStatus = "operational"
	InMaintenance MaintenanceStatus = "maintenance"
	UnderRepair   MaintenanceStatus = "repair"
	OutOfService  MaintenanceStatus = "out-of-service"
)

func (m MaintenanceStatus) Valid() bool {
	switch m {
	case Operational, InMaintenance, UnderRepair, OutOfService:
		return true
	}
	return false
}

// Details are the bike attributes that the state machine does not govern.
type Details struct {
	// ID is an internal identifier for a bike
	ID uuid.UUID `db:"id"`
	// Label is a physical label which is on the bike (e.g. "CARGO-123").
	Label string `db:"label"`

	Location pgtype.Point `db:"location"`

	HourlyRate   float64 `db:"hourly_rate"`
	BatteryLevel int     `db:"battery_level"`

	Maintenance      MaintenanceStatus `db:"maintenance_status"`
	MaintenanceNotes string            `db:"maintenance_notes"`

	CurrentRiderID string    `db:"current_rider_id"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (d Details) Lat() float64 { return d.Location.P.X }
func (d Details) Lng() float64 { return d.Location.P.Y }

// Point builds a location from latitude and longitude.
func Point(lat, lng float64) pgtype.Point {
	return pgtype.Point{P: pgtype.Vec2{X: lat, Y: lng}, Valid: true}
}

// Bike is a bike in one of the legal states. The only ways to obtain one are
// New, Load and the transitions in state.go, so a Bike never carries an
// illegal flag combination.
type Bike struct {
	Details
	state State
}

// New provisions a bike. It starts locked, and available when operational.
func New(d Details) Bike {
	if d.Maintenance == "" {
		d.Maintenance = Operational
	}
	b := Bike{Details: d, state: LockedMaintenance}
	if d.Maintenance == Operational {
		b.state = LockedAvailable
	}
	return b
}

func (b Bike) State() State    { return b.state }
func (b Bike) Locked() bool    { return b.state.flags().Locked }
func (b Bike) Available() bool { return b.state.flags().Available }
func (b Bike) InUse() bool     { return b.state.flags().InUse }

// Record flattens the bike into its stored form.
func (b Bike) Record() Record {
	f := b.state.flags()
	return Record{Details: b.Details, Locked: f.Locked, Available: f.Available, InUse: f.InUse}
}

// Record is a bike as persisted: three independent booleans which may have
// drifted into an illegal combination through out-of-band writes.
type Record struct {
	Details
	Locked    bool `db:"locked"`
	Available bool `db:"available"`
	InUse     bool `db:"in_use"`
}

// Load validates a stored record and returns the bike it describes.
func Load(r Record) (Bike, error) {
	if v := Check(r); len(v) > 0 {
		return Bike{}, &InconsistentError{ID: r.ID, Violations: v}
	}
	s, ok := stateOf(Flags{Locked: r.Locked, Available: r.Available, InUse: r.InUse})
	if !ok {
		return Bike{}, &InconsistentError{ID: r.ID}
	}
	return Bike{Details: r.Details, state: s}, nil
}

// Event is the change notification published when a bike is written.
type Event struct {
	ID          uuid.UUID         `json:"id"`
	Label       string            `json:"label"`
	State       State             `json:"state"`
	Locked      bool              `json:"locked"`
	Available   bool              `json:"available"`
	InUse       bool              `json:"inUse"`
	Maintenance MaintenanceStatus `json:"maintenanceStatus"`
	RiderID     string            `json:"currentRiderId,omitempty"`
	Lat         float64           `json:"latitude"`
	Lng         float64           `json:"longitude"`
}

func (b Bike) Event() Event {
	f := b.state.flags()
	return Event{
		ID:          b.ID,
		Label:       b.Label,
		State:       b.state,
		Locked:      f.Locked,
		Available:   f.Available,
		InUse:       f.InUse,
		Maintenance: b.Maintenance,
		RiderID:     b.CurrentRiderID,
		Lat:         b.Lat(),
		Lng:         b.Lng(),
	}
}

func (b Bike) MarshalEvent() ([]byte, error) {
	return json.Marshal(b.Event())
}

// PendingRestore is a bike whose restore at ride end failed and which the
// auditor must return to service.
type PendingRestore struct {
	ID        uuid.UUID `db:"id"`
	BikeID    uuid.UUID `db:"bike_id"`
	RideID    uuid.UUID `db:"ride_id"`
	RiderID   string    `db:"rider_id"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

type InconsistentError struct {
	ID         uuid.UUID
	Violations []Violation
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("bike %s has inconsistent flags: %v", e.ID, e.Violations)
}

// Is lets callers treat an inconsistent bike as one that cannot be used.
func (e *InconsistentError) Is(target error) bool {
	return target == ErrNotAvailable
}
