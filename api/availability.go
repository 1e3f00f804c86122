package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/booking"
)

type bikeAvailabilityResponse struct {
	BikeID    uuid.UUID                 `json:"bikeId"`
	Start     time.Time                 `json:"start"`
	End       time.Time                 `json:"end"`
	Available bool                      `json:"available"`
	Bookings  []bookingTimeSlotResponse `json:"bookings"`
}

type bookingTimeSlotResponse struct {
	StartTime    time.Time      `json:"startTime"`
	EndTime      time.Time      `json:"endTime"`
	Status       booking.Status `json:"status"`
	IsOwnBooking bool           `json:"isOwnBooking"`
}

type availabilityQuery struct {
	Start time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00" binding:"required"`
	End   time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00" binding:"required"`
}

// availabilityHandler is a best-effort answer; creating the booking is the
// only authoritative check.
func (a *API) availabilityHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	if _, err := a.fleet.Get(c, id); err != nil {
		writeError(c, "get bike", err)
		return
	}
	rng := booking.Range{Start: q.Start, End: q.End}
	available, err := a.bookings.CheckAvailability(c, id, rng)
	if err != nil {
		writeError(c, "check availability", err)
		return
	}
	bookings, err := a.bookings.ListByBike(c, id)
	if err != nil {
		writeError(c, "list bookings", err)
		return
	}

	me := userID(c)
	slots := make([]bookingTimeSlotResponse, 0)
	for _, b := range bookings {
		if !b.Status.Holds() || !b.Range().Overlaps(rng) {
			continue
		}
		slots = append(slots, bookingTimeSlotResponse{
			StartTime:    b.StartTime,
			EndTime:      b.EndTime,
			Status:       b.Status,
			IsOwnBooking: b.UserID == me,
		})
	}

	c.JSON(http.StatusOK, bikeAvailabilityResponse{
		BikeID:    id,
		Start:     q.Start,
		End:       q.End,
		Available: available,
		Bookings:  slots,
	})
}
