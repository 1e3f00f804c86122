package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/bike"
)

type bikeResponse struct {
	ID               uuid.UUID              `json:"id"`
	Label            string                 `json:"label"`
	State            string                 `json:"state,omitempty"`
	Locked           bool                   `json:"locked"`
	Available        bool                   `json:"available"`
	InUse            bool                   `json:"inUse"`
	Lat              float64                `json:"latitude"`
	Lng              float64                `json:"longitude"`
	HourlyRate       float64                `json:"hourlyRate"`
	BatteryLevel     int                    `json:"batteryLevel"`
	Maintenance      bike.MaintenanceStatus `json:"maintenanceStatus"`
	MaintenanceNotes string                 `json:"maintenanceNotes,omitempty"`
	CurrentRiderID   string                 `json:"currentRiderId,omitempty"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// toBikeResponse reports the stored flags as they are. State is left empty
// for records that break an invariant until the auditor repairs them.
func toBikeResponse(r bike.Record) bikeResponse {
	br := bikeResponse{
		ID:               r.ID,
		Label:            r.Label,
		Locked:           r.Locked,
		Available:        r.Available,
		InUse:            r.InUse,
		Lat:              r.Lat(),
		Lng:              r.Lng(),
		HourlyRate:       r.HourlyRate,
		BatteryLevel:     r.BatteryLevel,
		Maintenance:      r.Maintenance,
		MaintenanceNotes: r.MaintenanceNotes,
		CurrentRiderID:   r.CurrentRiderID,
		UpdatedAt:        r.UpdatedAt,
	}
	if b, err := bike.Load(r); err == nil {
		br.State = b.State().String()
	}
	return br
}

func (a *API) bikesHandler(c *gin.Context) {
	records, err := a.fleet.List(c)
	if err != nil {
		writeError(c, "list bikes", err)
		return
	}

	resp := make([]bikeResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, toBikeResponse(r))
	}
	c.JSON(200, resp)
}

func (a *API) bikeHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	r, err := a.fleet.Get(c, id)
	if err != nil {
		writeError(c, "get bike", err)
		return
	}
	c.JSON(200, toBikeResponse(r))
}

func (a *API) lockBikeHandler(c *gin.Context) {
	a.transition(c, "lock bike", func(b bike.Bike) (bike.Bike, error) {
		return b.Lock()
	})
}

func (a *API) unlockBikeHandler(c *gin.Context) {
	a.transition(c, "unlock bike", func(b bike.Bike) (bike.Bike, error) {
		return b.Unlock(), nil
	})
}

type maintenanceRequest struct {
	Status bike.MaintenanceStatus `json:"status" binding:"required"`
	Notes  string                 `json:"notes"`
}

func (a *API) maintenanceHandler(c *gin.Context) {
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	a.transition(c, "set maintenance", func(b bike.Bike) (bike.Bike, error) {
		return b.SetMaintenance(req.Status, req.Notes)
	})
}

func (a *API) transition(c *gin.Context, op string, fn func(bike.Bike) (bike.Bike, error)) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	b, err := a.fleet.Transition(c, id, fn)
	if err != nil {
		writeError(c, op, err)
		return
	}
	c.JSON(200, toBikeResponse(b.Record()))
}
