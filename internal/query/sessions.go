package query

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xokuso/peluquerias-app-sub000/internal/model"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"gorm.io/gorm"
)

type SessionDetail struct {
	Session     model.Session            `json:"session"`
	PageViews   []model.PageView         `json:"page_views"`
	Events      []model.AnalyticsEvent   `json:"events"`
	FunnelSteps []model.FunnelStepRecord `json:"funnel_steps"`
}

// GET /api/sessions/:id?limit=200
func SessionHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			respondErr(c, http.StatusNotImplemented, "database not configured")
			return
		}
		id := strings.TrimSpace(c.Param("id"))
		limit := parseLimit(c.Query("limit"), 200, 1000)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		sess, err := store.GetSession(ctx, db, id)
		if err != nil {
			if store.IsNotFound(err) {
				respondErr(c, http.StatusNotFound, "not found")
				return
			}
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		out := SessionDetail{Session: sess}
		if out.PageViews, err = store.ListPageViews(ctx, db, id, limit); err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		if out.Events, err = store.ListAnalyticsEvents(ctx, db, id, limit); err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		if out.FunnelSteps, err = store.ListFunnelRecords(ctx, db, id, ""); err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondOK(c, out)
	}
}
