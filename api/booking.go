package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/booking"
)

type createBookingRequest struct {
	BikeID    uuid.UUID    `json:"bikeId" binding:"required"`
	StartTime time.Time    `json:"startDate" binding:"required"`
	EndTime   time.Time    `json:"endDate" binding:"required"`
	Plan      booking.Plan `json:"plan"`
}

func (a *API) getBookingsHandler(c *gin.Context) {
	var (
		bookings []booking.Booking
		err      error
	)
	if raw := c.Query("bikeId"); raw != "" {
		bikeID, perr := uuid.Parse(raw)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid bikeId"})
			return
		}
		bookings, err = a.bookings.ListByBike(c, bikeID)
	} else {
		bookings, err = a.bookings.ListByUser(c, userID(c))
	}
	if err != nil {
		writeError(c, "list bookings", err)
		return
	}

	status := booking.Status(c.Query("status"))
	resp := make([]booking.Booking, 0, len(bookings))
	for _, b := range bookings {
		if status != "" && b.Status != status {
			continue
		}
		resp = append(resp, b)
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) createBookingHandler(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	if req.Plan == "" {
		req.Plan = booking.Hourly
	}

	b, err := a.bookings.Create(c, booking.Request{
		BikeID: req.BikeID,
		UserID: userID(c),
		Range:  booking.Range{Start: req.StartTime, End: req.EndTime},
		Plan:   req.Plan,
	})
	if err != nil {
		writeError(c, "create booking", err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (a *API) cancelBookingHandler(c *gin.Context) {
	a.bookingTransition(c, "cancel booking", func(id uuid.UUID) (booking.Booking, error) {
		return a.bookings.Cancel(c, id, userID(c))
	})
}

func (a *API) confirmBookingHandler(c *gin.Context) {
	a.bookingTransition(c, "confirm booking", func(id uuid.UUID) (booking.Booking, error) {
		return a.bookings.Confirm(c, id)
	})
}

func (a *API) completeBookingHandler(c *gin.Context) {
	a.bookingTransition(c, "complete booking", func(id uuid.UUID) (booking.Booking, error) {
		return a.bookings.Complete(c, id)
	})
}

func (a *API) bookingTransition(c *gin.Context, op string, fn func(uuid.UUID) (booking.Booking, error)) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	b, err := fn(id)
	if err != nil {
		writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
