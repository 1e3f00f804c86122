package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rencelibrando/infoma-sub004/audit"
	"github.com/rencelibrando/infoma-sub004/bike"
	"github.com/rencelibrando/infoma-sub004/booking"
	"github.com/rencelibrando/infoma-sub004/internal/middleware"
	"github.com/rencelibrando/infoma-sub004/internal/watch"
	"github.com/rencelibrando/infoma-sub004/ride"
)

// Fleet is the bike catalog. Transition is the only way the API changes a
// bike's state.
type Fleet interface {
	List(ctx context.Context) ([]bike.Record, error)
	Get(ctx context.Context, id uuid.UUID) (bike.Record, error)
	Transition(ctx context.Context, id uuid.UUID, fn func(bike.Bike) (bike.Bike, error)) (bike.Bike, error)
}

type Config struct {
	Logger   *slog.Logger
	Registry *prometheus.Registry
	// Auth authenticates riders and must store their ID under
	// middleware.UserIDKey.
	Auth gin.HandlerFunc

	// AdminIDs may lock, unlock and service bikes, run sweeps and watch
	// the operations stream, alongside tokens with the admin permission.
	AdminIDs []string

	MetricsUsername string
	MetricsPassword string

	// Feeds back the operations stream.
	Feeds []watch.Feed
}

type API struct {
	r        *gin.Engine
	fleet    Fleet
	bookings *booking.Manager
	rides    *ride.Tracker
	auditor  *audit.Auditor
	feeds    []watch.Feed
}

func New(fleet Fleet, bm *booking.Manager, tr *ride.Tracker, au *audit.Auditor, cfg Config) *API {
	a := &API{
		r:        gin.New(),
		fleet:    fleet,
		bookings: bm,
		rides:    tr,
		auditor:  au,
		feeds:    cfg.Feeds,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a.r.Use(gin.Recovery(), middleware.Tracing(), middleware.Logging(logger))
	if cfg.Registry != nil {
		a.r.Use(middleware.Metrics(cfg.Registry))

		metrics := gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
		if cfg.MetricsUsername != "" {
			a.r.GET("/metrics", gin.BasicAuth(gin.Accounts{cfg.MetricsUsername: cfg.MetricsPassword}), metrics)
		} else {
			a.r.GET("/metrics", metrics)
		}
	}

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	auth := cfg.Auth
	if auth == nil {
		auth = middleware.RequireUser()
	}
	protected := a.r.Group("/", auth, middleware.RequireUser())
	{
		protected.GET("/bikes", a.bikesHandler)
		protected.GET("/bikes/:id", a.bikeHandler)
		protected.GET("/bikes/:id/availability", a.availabilityHandler)

		protected.GET("/bookings", a.getBookingsHandler)
		protected.POST("/bookings", a.createBookingHandler)
		protected.POST("/bookings/:id/cancel", a.cancelBookingHandler)
		protected.POST("/bookings/:id/confirm", a.confirmBookingHandler)
		protected.POST("/bookings/:id/complete", a.completeBookingHandler)

		protected.POST("/rides/start", a.startRideHandler)
		protected.GET("/rides/current", a.currentRideHandler)
		protected.GET("/rides/history", a.rideHistoryHandler)
		protected.POST("/rides/:id/location", a.locationHandler)
		protected.POST("/rides/:id/end", a.endRideHandler)
		protected.POST("/rides/:id/cancel", a.cancelRideHandler)
	}

	admin := protected.Group("/", middleware.RequireAdmin(cfg.AdminIDs...))
	{
		admin.POST("/bikes/:id/lock", a.lockBikeHandler)
		admin.POST("/bikes/:id/unlock", a.unlockBikeHandler)
		admin.POST("/bikes/:id/maintenance", a.maintenanceHandler)

		admin.POST("/admin/sweep", a.sweepHandler)
		admin.GET("/ops/stream", a.streamHandler)
	}

	return a
}

func (a *API) Router() *gin.Engine {
	return a.r
}

func paramID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(400, gin.H{"code": "INVALID_REQUEST", "message": "Invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
