package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records request rate, errors and duration per route. Requests that
// match no route share the "unmatched" label.
func Metrics(reg prometheus.Registerer) gin.HandlerFunc {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	errors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP request errors",
		},
		[]string{"method", "route", "status", "error_type"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	reg.MustRegister(requests, errors, duration)

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		statusStr := strconv.Itoa(status)
		method := c.Request.Method

		requests.WithLabelValues(method, route, statusStr).Inc()
		switch {
		case status >= 500:
			errors.WithLabelValues(method, route, statusStr, "server").Inc()
		case status >= 400:
			errors.WithLabelValues(method, route, statusStr, "client").Inc()
		}
		duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
