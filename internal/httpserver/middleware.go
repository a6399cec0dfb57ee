package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"go.uber.org/zap"
)

// accessMiddleware feeds request counters and logs server errors. Successful
// requests are not logged; tracking traffic is too chatty for that.
func accessMiddleware(stats *obs.Stats, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		stats.ObserveHTTP(status, elapsed)

		if status < http.StatusInternalServerError {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		logger.Error("request failed", fields...)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding, X-Requested-With")
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// maintenanceOpen are the paths that keep answering in maintenance mode.
var maintenanceOpen = map[string]bool{
	"/healthz":    true,
	"/api/status": true,
}

func maintenanceMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !enabled || maintenanceOpen[path] {
			c.Next()
			return
		}
		if path == beaconPath {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if strings.HasPrefix(path, "/api/") {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "err": "maintenance"})
			return
		}
		c.String(http.StatusServiceUnavailable, "maintenance")
		c.Abort()
	}
}
