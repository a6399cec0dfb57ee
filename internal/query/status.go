package query

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"gorm.io/gorm"
)

type SystemStatus string

const (
	SystemStatusRunning     SystemStatus = "running"
	SystemStatusDegraded    SystemStatus = "degraded"
	SystemStatusMaintenance SystemStatus = "maintenance"
	SystemStatusException   SystemStatus = "exception"
)

// Pinger is satisfied by the NSQ publisher.
type Pinger interface {
	Ping() error
}

// PixelState reports the server-side pixel dispatcher.
type PixelState interface {
	Enabled() bool
	Ready() bool
	Pending() int
}

type StatusDeps struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Queue       Pinger
	Pixel       PixelState
	Maintenance bool
}

type componentStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func StatusHandler(d StatusDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Maintenance {
			respondOK(c, gin.H{
				"status":  SystemStatusMaintenance,
				"message": "maintenance",
			})
			return
		}
		if d.DB == nil {
			respondOK(c, gin.H{
				"status":  SystemStatusException,
				"message": "database not configured",
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := SystemStatusRunning
		components := gin.H{}

		counts, err := store.CountRows(ctx, d.DB)
		if err != nil {
			respondOK(c, gin.H{
				"status":  SystemStatusException,
				"message": "database unavailable",
			})
			return
		}
		components["database"] = componentStatus{OK: true}

		if d.Redis != nil {
			cs := componentStatus{OK: true}
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				cs = componentStatus{Message: err.Error()}
				status = SystemStatusDegraded
			}
			components["redis"] = cs
		}
		if d.Queue != nil {
			cs := componentStatus{OK: true}
			if err := d.Queue.Ping(); err != nil {
				cs = componentStatus{Message: err.Error()}
				status = SystemStatusDegraded
			}
			components["queue"] = cs
		}
		if d.Pixel != nil && d.Pixel.Enabled() {
			components["pixel"] = gin.H{
				"ready":   d.Pixel.Ready(),
				"pending": d.Pixel.Pending(),
			}
		}

		respondOK(c, gin.H{
			"status":     status,
			"components": components,
			"rows":       counts,
		})
	}
}

// DebugMetricsHandler exposes the in-process counters.
func DebugMetricsHandler(stats *obs.Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		if stats == nil {
			respondErr(c, http.StatusNotImplemented, "stats not configured")
			return
		}
		respondOK(c, stats.Snapshot())
	}
}
