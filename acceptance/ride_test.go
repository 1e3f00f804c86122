package acceptance

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/rencelibrando/infoma-sub004/internal/live"
)

func TestStartRide_RejectsWhenUpcomingBooking(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	bikeID := ts.CreateTestBike(t, "BIKE-001")

	// Create a booking by user-1 starting in 30 minutes
	bookingStart := time.Now().Add(30 * time.Minute)
	ts.CreateTestBooking(t, bikeID, "user-1", bookingStart, bookingStart.Add(2*time.Hour))

	// User-2 tries to start a ride - should be rejected
	body := map[string]any{"bikeId": bikeID, "location": location(14, 120)}
	w := ts.POST("/rides/start", body, as("user-2"))

	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d: %s", http.StatusConflict, w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["code"] != "UPCOMING_BOOKING_CONFLICT" {
		t.Errorf("expected code UPCOMING_BOOKING_CONFLICT, got %v", resp["code"])
	}
	if resp["nextBookingStart"] == nil {
		t.Error("expected nextBookingStart in response")
	}
}

func TestStartRide_AllowsWhenOwnUpcomingBooking(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	bikeID := ts.CreateTestBike(t, "BIKE-001")

	bookingStart := time.Now().Add(30 * time.Minute)
	ts.CreateTestBooking(t, bikeID, "user-1", bookingStart, bookingStart.Add(2*time.Hour))

	// User-1 (same user) tries to start a ride - should be allowed
	body := map[string]any{"bikeId": bikeID, "location": location(14, 120)}
	w := ts.POST("/rides/start", body, as("user-1"))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
}

func TestStartRide_AllowsWhenBookingIsLater(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	bikeID := ts.CreateTestBike(t, "BIKE-001")

	bookingStart := time.Now().Add(3 * time.Hour)
	ts.CreateTestBooking(t, bikeID, "user-1", bookingStart, bookingStart.Add(time.Hour))

	body := map[string]any{"bikeId": bikeID, "location": location(14, 120)}
	w := ts.POST("/rides/start", body, as("user-2"))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
}

func TestStartRide_OneActiveRidePerRider(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	first := ts.CreateTestBike(t, "BIKE-001")
	second := ts.CreateTestBike(t, "BIKE-002")
	rideID := ts.StartTestRide(t, first, "user-1")

	w := ts.POST("/rides/start", map[string]any{"bikeId": second, "location": location(14, 120)}, as("user-1"))
	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d: %s", http.StatusConflict, w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["code"] != "RIDE_IN_PROGRESS" || resp["rideId"] != rideID {
		t.Errorf("expected RIDE_IN_PROGRESS for ride %s, got %s", rideID, w.Body.String())
	}

	w = ts.POST("/rides/start", map[string]any{"bikeId": first, "location": location(14, 120)}, as("user-2"))
	if code := errorCode(t, w); code != "BIKE_NOT_AVAILABLE" {
		t.Errorf("expected code BIKE_NOT_AVAILABLE for a bike in use, got %s", code)
	}
}

func TestRide_FullJourney(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	bikeID := ts.CreateTestBike(t, "BIKE-001")
	rideID := ts.StartTestRide(t, bikeID, "user-1")

	w := ts.GET("/rides/current", as("user-1"))
	var current rideResponse
	json.Unmarshal(w.Body.Bytes(), &current)
	if current.ID.String() != rideID || current.Status != "active" {
		t.Errorf("expected active ride %s, got %s", rideID, w.Body.String())
	}

	w = ts.POST("/rides/"+rideID+"/location", location(14.6005, 120.9852), as("user-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var moved rideResponse
	json.Unmarshal(w.Body.Bytes(), &moved)
	if moved.SampleCount != 2 || moved.DistanceTraveled <= 0 {
		t.Errorf("expected distance after second sample, got %+v", moved)
	}

	w = ts.POST("/rides/"+rideID+"/location", location(14.6005, 120.9852), as("user-2"))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status %d for another rider, got %d: %s", http.StatusForbidden, w.Code, w.Body.String())
	}

	w = ts.POST("/rides/"+rideID+"/end", location(14.6010, 120.9860), as("user-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var ended rideResponse
	json.Unmarshal(w.Body.Bytes(), &ended)
	if ended.Status != "completed" || ended.EndTime == nil {
		t.Errorf("expected completed ride, got %s", w.Body.String())
	}
	// A ride of a few milliseconds bills the quarter-hour minimum at 20 per hour.
	if ended.Cost != 5 {
		t.Errorf("expected cost 5, got %v", ended.Cost)
	}

	w = ts.GET("/bikes/"+bikeID, as("user-1"))
	var b bikeResponse
	json.Unmarshal(w.Body.Bytes(), &b)
	if b.State != "locked-available" || b.Lat != 14.6010 || b.Lng != 120.9860 {
		t.Errorf("expected bike locked at the drop-off point, got %+v", b)
	}

	var loc map[string]any
	if err := ts.Live.Get(context.Background(), live.ActiveRide("user-1"), &loc); err == nil {
		t.Error("expected active ride removed from the live store")
	}

	w = ts.POST("/rides/"+rideID+"/end", location(14.6010, 120.9860), as("user-1"))
	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d: %s", http.StatusConflict, w.Code, w.Body.String())
	}
	if code := errorCode(t, w); code != "RIDE_NOT_ACTIVE" {
		t.Errorf("expected code RIDE_NOT_ACTIVE, got %s", code)
	}

	w = ts.GET("/rides/current", as("user-1"))
	if w.Code != http.StatusOK || w.Body.String() != "null" {
		t.Errorf("expected no current ride, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.GET("/rides/history", as("user-1"))
	var history []rideResponse
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("failed to unmarshal history: %v", err)
	}
	if len(history) != 1 || len(history[0].Path) != 3 {
		t.Errorf("expected one archived ride with a path of 3, got %s", w.Body.String())
	}
}

func TestRide_CancelFreesBike(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	bikeID := ts.CreateTestBike(t, "BIKE-001")
	rideID := ts.StartTestRide(t, bikeID, "user-1")

	w := ts.POST("/rides/"+rideID+"/cancel", nil, as("user-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp rideResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "cancelled" || resp.Cost != 0 {
		t.Errorf("expected cancelled ride without cost, got %s", w.Body.String())
	}

	ts.StartTestRide(t, bikeID, "user-2")
}

func TestRide_UnknownRide(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	w := ts.POST("/rides/00000000-0000-0000-0000-000000000001/end", location(14, 120), as("user-1"))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d: %s", http.StatusNotFound, w.Code, w.Body.String())
	}
	if code := errorCode(t, w); code != "RIDE_NOT_FOUND" {
		t.Errorf("expected code RIDE_NOT_FOUND, got %s", code)
	}
}
