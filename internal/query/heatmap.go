package query

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xokuso/peluquerias-app-sub000/internal/heatmap"
)

// GET /api/heatmap?page=/path&device=desktop
func HeatmapHandler(agg *heatmap.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if agg == nil {
			respondErr(c, http.StatusNotImplemented, "database not configured")
			return
		}
		page := strings.TrimSpace(c.Query("page"))
		if page == "" {
			respondErr(c, http.StatusBadRequest, "page is required")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		points, err := agg.Points(ctx, page, c.Query("device"))
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		var total int64
		for _, p := range points {
			total += p.ClickCount
		}
		respondOK(c, gin.H{
			"page":   page,
			"clicks": total,
			"points": points,
		})
	}
}
