package workerruntime

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig configures the control-port echo server, adapted from
// http/server.go's ServerConfig down to the handful of fields a syncworker's
// internal control port actually needs: no CORS, no rate limiting, since
// this port is only ever reachable from the orchestrating platform, not
// public traffic.
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// DefaultServerConfig mirrors http/server.go's DefaultServerConfig defaults
// narrowed to what the control port needs.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Port: 8080, ShutdownTimeout: 10 * time.Second}
}

// Status is the /status response body.
type Status struct {
	WorkerID   string `json:"worker_id"`
	Draining   bool   `json:"draining"`
	ActiveJobs int64  `json:"active_jobs"`
	UptimeSecs int64  `json:"uptime_seconds"`
}

// ControlServer builds the echo server exposing /health, /drain, /metrics,
// /status (spec.md §4.15), grounded on http/server.go's NewEchoServer
// middleware stack and HealthCheckHandler/GracefulShutdown shape, adapted to
// this worker's own Status payload instead of the teacher's generic
// HealthResponse.
func (r *Runtime) ControlServer(cfg ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "service": "syncworker"})
	})

	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, r.status())
	})

	e.POST("/drain", func(c echo.Context) error {
		r.Drain()
		return c.JSON(http.StatusOK, r.status())
	})

	e.GET("/metrics", func(c echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	return e
}

func (r *Runtime) status() Status {
	return Status{
		WorkerID:   r.id,
		Draining:   r.isDraining(),
		ActiveJobs: atomic.LoadInt64(&r.active),
		UptimeSecs: int64(time.Since(r.started).Seconds()),
	}
}

// Shutdown gracefully stops the control server, draining in-flight HTTP
// requests but never touching in-flight sync jobs — those are the Runtime's
// own concern via Drain (spec.md §4.15).
func Shutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("workerruntime: shutdown: %w", err)
	}
	return nil
}
