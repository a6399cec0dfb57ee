package query

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xokuso/peluquerias-app-sub000/internal/metrics"
)

func MetricsTodayHandler(recorder *metrics.RedisRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if recorder == nil {
			respondErr(c, http.StatusNotImplemented, "metrics not configured")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		today, ok, err := recorder.Today(ctx, time.Now().UTC())
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		if !ok {
			respondErr(c, http.StatusNotImplemented, "metrics not ready")
			return
		}
		respondOK(c, today)
	}
}

// GET /api/metrics/dist?dim=device|browser|os|country|page|click|conversion&start=&end=&limit=10
func DistributionHandler(recorder *metrics.RedisRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if recorder == nil {
			respondErr(c, http.StatusNotImplemented, "metrics not configured")
			return
		}

		dim := strings.ToLower(strings.TrimSpace(c.Query("dim")))
		switch dim {
		case "device", "browser", "os", "country", "page", "click", "conversion":
		default:
			respondErr(c, http.StatusBadRequest, "invalid dim")
			return
		}
		limit := parseLimit(c.Query("limit"), 10, 100)

		now := time.Now().UTC()
		start, okStart := parseTime(c.Query("start"))
		end, okEnd := parseTime(c.Query("end"))
		if !okEnd {
			end = now
		}
		if !okStart {
			start = end.AddDate(0, 0, -6) // 7 days incl today
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		items, err := recorder.Distribution(ctx, dim, start, end, limit)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondOK(c, gin.H{
			"dim":   dim,
			"start": start.UTC().Format(time.RFC3339),
			"end":   end.UTC().Format(time.RFC3339),
			"items": items,
		})
	}
}
