package bike

import (
	"errors"

	"github.com/goccy/go-json"
)

var (
	ErrNotFound           = errors.New("bike not found")
	ErrNotAvailable       = errors.New("bike not available")
	ErrInvalidTransition  = errors.New("invalid bike state transition")
	ErrInvalidMaintenance = errors.New("invalid maintenance status")
	ErrNoRider            = errors.New("rider id is required")
)

type State int

const (
	LockedAvailable State = iota
	LockedMaintenance
	UnlockedInUse
	// Unlocked is a bike opened outside a ride, e.g. by a mechanic.
	Unlocked
)

func (s State) String() string {
	return [...]string{"locked-available", "locked-maintenance", "unlocked-in-use", "unlocked"}[s]
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

type Flags struct {
	Locked    bool
	Available bool
	InUse     bool
}

var stateFlags = map[State]Flags{
	LockedAvailable:   {Locked: true, Available: true},
	LockedMaintenance: {Locked: true},
	UnlockedInUse:     {InUse: true},
	Unlocked:          {},
}

func (s State) flags() Flags { return stateFlags[s] }

func stateOf(f Flags) (State, bool) {
	for s, sf := range stateFlags {
		if sf == f {
			return s, true
		}
	}
	return 0, false
}

// lockedState is where a bike settles once it is locked and idle.
func lockedState(m MaintenanceStatus) State {
	if m == Operational {
		return LockedAvailable
	}
	return LockedMaintenance
}

func (b Bike) with(s State) Bike {
	b.state = s
	return b
}

// Lock locks an idle bike. Locking an in-use bike is rejected; the ride must
// end first.
func (b Bike) Lock() (Bike, error) {
	switch b.state {
	case UnlockedInUse:
		return b, ErrInvalidTransition
	case Unlocked:
		return b.with(lockedState(b.Maintenance)), nil
	}
	return b, nil
}

// Unlock opens the lock and withdraws the bike from availability. An in-use
// bike is already unlocked and is left unchanged.
func (b Bike) Unlock() Bike {
	if b.state == UnlockedInUse {
		return b
	}
	return b.with(Unlocked)
}

func (b Bike) BeginUse(riderID string) (Bike, error) {
	if riderID == "" {
		return b, ErrNoRider
	}
	if b.state != LockedAvailable || b.Maintenance != Operational {
		return b, ErrNotAvailable
	}
	b.CurrentRiderID = riderID
	return b.with(UnlockedInUse), nil
}

// EndUse locks the bike after a ride. Availability is restored unless a
// maintenance hold was placed during the ride.
func (b Bike) EndUse() (Bike, error) {
	if b.state != UnlockedInUse {
		return b, ErrInvalidTransition
	}
	b.CurrentRiderID = ""
	return b.with(lockedState(b.Maintenance)), nil
}

// SetMaintenance records a maintenance status. A non-operational status takes
// a bike out of service immediately unless it is in use, in which case the
// hold is applied by EndUse.
func (b Bike) SetMaintenance(status MaintenanceStatus, notes string) (Bike, error) {
	if !status.Valid() {
		return b, ErrInvalidMaintenance
	}
	b.Maintenance = status
	b.MaintenanceNotes = notes

	switch {
	case b.state == UnlockedInUse:
		return b, nil
	case status != Operational:
		return b.with(LockedMaintenance), nil
	case b.state == LockedMaintenance:
		return b.with(LockedAvailable), nil
	}
	return b, nil
}

type Violation string

const (
	AvailableNotLocked     Violation = "available bike must be locked and not in use"
	InUseLocked            Violation = "in-use bike must be unlocked"
	AvailableInMaintenance Violation = "bike under maintenance must not be available"
)

// Check returns every invariant the stored flags break.
func Check(r Record) []Violation {
	var v []Violation
	if r.Available && (!r.Locked || r.InUse) {
		v = append(v, AvailableNotLocked)
	}
	if r.InUse && r.Locked {
		v = append(v, InUseLocked)
	}
	if r.Maintenance != Operational && r.Available && !r.InUse {
		v = append(v, AvailableInMaintenance)
	}
	return v
}

// Repair recomputes locked and available from inUse and the maintenance
// status. It reports whether anything changed. Repair(Repair(r)) == Repair(r).
func Repair(r Record) (Record, bool) {
	if len(Check(r)) == 0 {
		return r, false
	}

	before := r
	if r.InUse {
		r.Locked = false
		r.Available = false
	} else {
		r.Locked = true
		r.Available = r.Maintenance == Operational
	}
	return r, r != before
}
