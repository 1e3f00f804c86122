package acceptance

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/api"
	"github.com/rencelibrando/infoma-sub004/audit"
	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/internal/live"
	"github.com/rencelibrando/infoma-sub004/internal/memstore"
	"github.com/rencelibrando/infoma-sub004/internal/middleware"
	"github.com/rencelibrando/infoma-sub004/internal/watch"
	"github.com/rencelibrando/infoma-sub004/ride"
	"github.com/rencelibrando/infoma-sub004/telemetry"
)

type TestServer struct {
	DB       *memstore.DB
	Live     *live.Memory
	Router   *gin.Engine
	Bookings *booking.Manager

	replicator *telemetry.Replicator
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db := memstore.New()
	mem := live.NewMemory()

	rep := telemetry.NewReplicator(logger, nil, 2,
		telemetry.NewLiveSink(mem),
		telemetry.Throttle(telemetry.NewDurableSink(db.Rides()), telemetry.EveryNth(10)),
	)
	bm := booking.NewManager(db.Bookings(), logger, nil)
	tr := ride.NewTracker(db.Rides(), rep, ride.DefaultConfig(), logger, nil)
	au := audit.New(db.Audit(), logger, nil)

	a := api.New(db.Bikes(), bm, tr, au, api.Config{
		Logger:   logger,
		Auth:     fakeAuthMiddleware(),
		AdminIDs: []string{"mechanic", "ops"},
		Feeds: []watch.Feed{
			{Name: "live", Source: mem, Pattern: "activeRides/*"},
			{Name: "durable", Source: db, Pattern: "bikes"},
		},
	})

	return &TestServer{
		DB:         db,
		Live:       mem,
		Router:     a.Router(),
		Bookings:   bm,
		replicator: rep,
	}
}

func (ts *TestServer) Close() {
	ts.replicator.Close()
}

// fakeAuthMiddleware extracts user ID from X-User-ID header for testing
func fakeAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
			c.Abort()
			return
		}
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func as(userID string) map[string]string {
	return map[string]string{"X-User-ID": userID}
}

// Helper methods for making requests
func (ts *TestServer) GET(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func (ts *TestServer) POST(path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

// Helper to create test bike
func (ts *TestServer) CreateTestBike(t *testing.T, label string) string {
	t.Helper()
	b := bike.New(bike.Details{
		ID:           uuid.New(),
		Label:        label,
		Location:     bike.Point(14.5995, 120.9842),
		HourlyRate:   20,
		BatteryLevel: 100,
	})
	if err := ts.DB.Bikes().Create(context.Background(), b); err != nil {
		t.Fatalf("failed to create test bike: %v", err)
	}
	return b.ID.String()
}

// Helper to create test booking through the manager
func (ts *TestServer) CreateTestBooking(t *testing.T, bikeID, userID string, start, end time.Time) string {
	t.Helper()
	b, err := ts.Bookings.Create(context.Background(), booking.Request{
		BikeID: uuid.MustParse(bikeID),
		UserID: userID,
		Range:  booking.Range{Start: start, End: end},
		Plan:   booking.Hourly,
	})
	if err != nil {
		t.Fatalf("failed to create test booking: %v", err)
	}
	return b.ID.String()
}

// StartTestRide starts a ride over HTTP and returns its ID.
func (ts *TestServer) StartTestRide(t *testing.T, bikeID, userID string) string {
	t.Helper()
	w := ts.POST("/rides/start", map[string]any{
		"bikeId":   bikeID,
		"location": location(14.5995, 120.9842),
	}, as(userID))
	if w.Code != http.StatusOK {
		t.Fatalf("failed to start test ride: %d %s", w.Code, w.Body.String())
	}
	var resp rideResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal ride: %v", err)
	}
	return resp.ID.String()
}

func location(lat, lng float64) map[string]any {
	return map[string]any{"latitude": lat, "longitude": lng, "speed": 3}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal error response: %v", err)
	}
	code, _ := resp["code"].(string)
	return code
}

type bikeResponse struct {
	ID             uuid.UUID `json:"id"`
	Label          string    `json:"label"`
	State          string    `json:"state"`
	Locked         bool      `json:"locked"`
	Available      bool      `json:"available"`
	InUse          bool      `json:"inUse"`
	Lat            float64   `json:"latitude"`
	Lng            float64   `json:"longitude"`
	Maintenance    string    `json:"maintenanceStatus"`
	CurrentRiderID string    `json:"currentRiderId"`
}

type bookingResponse struct {
	ID         uuid.UUID `json:"id"`
	BikeID     uuid.UUID `json:"bikeId"`
	UserID     string    `json:"userId"`
	StartTime  time.Time `json:"startDate"`
	EndTime    time.Time `json:"endDate"`
	Status     string    `json:"status"`
	TotalPrice float64   `json:"totalPrice"`
	IsHourly   bool      `json:"isHourly"`
}

type rideResponse struct {
	ID               uuid.UUID  `json:"id"`
	BikeID           uuid.UUID  `json:"bikeId"`
	UserID           string     `json:"userId"`
	EndTime          *time.Time `json:"endTime"`
	Status           string     `json:"status"`
	Cost             float64    `json:"cost"`
	DistanceTraveled float64    `json:"distanceTraveled"`
	SampleCount      int        `json:"sampleCount"`
	Path             []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"path"`
}
