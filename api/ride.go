package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/ride"
)

type rideResponse struct {
	ID               uuid.UUID             `json:"id"`
	BikeID           uuid.UUID             `json:"bikeId"`
	UserID           string                `json:"userId"`
	StartTime        time.Time             `json:"startTime"`
	EndTime          *time.Time            `json:"endTime,omitempty"`
	Status           ride.Status           `json:"status"`
	HourlyRate       float64               `json:"hourlyRate"`
	Cost             float64               `json:"cost"`
	DistanceTraveled float64               `json:"distanceTraveled"`
	MaxSpeed         float64               `json:"maxSpeed"`
	CurrentSpeed     float64               `json:"currentSpeed"`
	SampleCount      int                   `json:"sampleCount"`
	LastLocation     *ride.LocationSample  `json:"lastLocation,omitempty"`
	Path             []ride.LocationSample `json:"path,omitempty"`
}

func toRideResponse(r ride.Ride) rideResponse {
	resp := rideResponse{
		ID:               r.ID,
		BikeID:           r.BikeID,
		UserID:           r.UserID,
		StartTime:        r.StartTime,
		Status:           r.Status,
		HourlyRate:       r.HourlyRate,
		Cost:             r.Cost,
		DistanceTraveled: r.DistanceTraveled,
		MaxSpeed:         r.MaxSpeed,
		CurrentSpeed:     r.CurrentSpeed,
		SampleCount:      r.SampleCount,
		Path:             r.Path,
	}
	if r.EndTime.Valid {
		resp.EndTime = &r.EndTime.Time
	}
	if r.LastSample.Valid {
		last := r.LastSample.Sample
		resp.LastLocation = &last
	}
	return resp
}

type startRideRequest struct {
	BikeID   uuid.UUID           `json:"bikeId" binding:"required"`
	Location ride.LocationSample `json:"location"`
}

func (a *API) startRideHandler(c *gin.Context) {
	var req startRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	r, err := a.rides.Start(c, req.BikeID, userID(c), req.Location)
	if err != nil {
		writeError(c, "start ride", err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}

// ownRide loads the ride named in the path and checks that the caller is
// its rider.
func (a *API) ownRide(c *gin.Context) (ride.Ride, bool) {
	id, ok := paramID(c)
	if !ok {
		return ride.Ride{}, false
	}
	r, err := a.rides.Get(c, id)
	if err != nil {
		writeError(c, "get ride", err)
		return ride.Ride{}, false
	}
	if r.UserID != userID(c) {
		writeError(c, "get ride", booking.ErrNotAuthorized)
		return ride.Ride{}, false
	}
	return r, true
}

func (a *API) locationHandler(c *gin.Context) {
	var s ride.LocationSample
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	r, ok := a.ownRide(c)
	if !ok {
		return
	}

	r, err := a.rides.OnLocationSample(c, r.ID, s)
	if err != nil {
		writeError(c, "record location", err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}

func (a *API) endRideHandler(c *gin.Context) {
	var s ride.LocationSample
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	r, ok := a.ownRide(c)
	if !ok {
		return
	}

	r, err := a.rides.End(c, r.ID, s)
	if err != nil {
		writeError(c, "end ride", err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}

func (a *API) cancelRideHandler(c *gin.Context) {
	r, ok := a.ownRide(c)
	if !ok {
		return
	}

	r, err := a.rides.Cancel(c, r.ID)
	if err != nil {
		writeError(c, "cancel ride", err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}

func (a *API) currentRideHandler(c *gin.Context) {
	r, err := a.rides.Current(c, userID(c))
	if errors.Is(err, ride.ErrNotFound) {
		c.JSON(http.StatusOK, nil)
		return
	}
	if err != nil {
		writeError(c, "current ride", err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}

func (a *API) rideHistoryHandler(c *gin.Context) {
	rides, err := a.rides.History(c, userID(c))
	if err != nil {
		writeError(c, "ride history", err)
		return
	}
	resp := make([]rideResponse, 0, len(rides))
	for _, r := range rides {
		resp = append(resp, toRideResponse(r))
	}
	c.JSON(http.StatusOK, resp)
}
