package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/internal/middleware"
	"github.com/rencelibrando/infoma-sub004/internal/txn"
	"github.com/rencelibrando/infoma-sub004/ride"
)

// writeError maps a core error to its status and code. Anything unrecognised
// is logged and reported as an internal error.
func writeError(c *gin.Context, op string, err error) {
	var upcoming *ride.UpcomingBookingError
	switch {
	case errors.As(err, &upcoming):
		c.JSON(http.StatusConflict, gin.H{
			"code":             "UPCOMING_BOOKING_CONFLICT",
			"message":          err.Error(),
			"nextBookingStart": upcoming.StartTime,
		})
	case errors.Is(err, ride.ErrRiderBusy):
		body := gin.H{"code": "RIDE_IN_PROGRESS", "message": "Rider already has an active ride"}
		if active, ok := ride.ActiveRideFromError(err); ok {
			body["rideId"] = active.ID
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, booking.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"code": "BOOKING_CONFLICT", "message": "Booking overlaps with existing booking"})
	case errors.Is(err, bike.ErrNotAvailable):
		c.JSON(http.StatusConflict, gin.H{"code": "BIKE_NOT_AVAILABLE", "message": err.Error()})
	case errors.Is(err, bike.ErrInvalidTransition), errors.Is(err, booking.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"code": "INVALID_TRANSITION", "message": err.Error()})
	case errors.Is(err, ride.ErrNotActive):
		c.JSON(http.StatusConflict, gin.H{"code": "RIDE_NOT_ACTIVE", "message": "Ride is not active"})
	case errors.Is(err, bike.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found"})
	case errors.Is(err, booking.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "BOOKING_NOT_FOUND", "message": "Booking not found"})
	case errors.Is(err, ride.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "RIDE_NOT_FOUND", "message": "Ride not found"})
	case errors.Is(err, booking.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"code": "NOT_AUTHORIZED", "message": err.Error()})
	case errors.Is(err, booking.ErrInvalidRange),
		errors.Is(err, booking.ErrInvalidPlan),
		errors.Is(err, ride.ErrInvalidSample),
		errors.Is(err, bike.ErrInvalidMaintenance),
		errors.Is(err, bike.ErrNoRider):
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
	case errors.Is(err, txn.ErrTransient):
		middleware.GetLogger(c).WarnContext(c, op+" gave up after retries", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "TRANSIENT_FAILURE", "message": "Please retry"})
	default:
		middleware.GetLogger(c).ErrorContext(c, op+" failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "message": "internal error"})
	}
}

func userID(c *gin.Context) string {
	id, _ := middleware.GetUserID(c)
	return id
}
