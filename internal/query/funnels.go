package query

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xokuso/peluquerias-app-sub000/internal/funnel"
	"github.com/xokuso/peluquerias-app-sub000/internal/metrics"
	"github.com/xokuso/peluquerias-app-sub000/internal/store"
	"gorm.io/gorm"
)

type StepMetrics struct {
	Step           string   `json:"step"`
	Order          int      `json:"order"`
	Entered        int64    `json:"entered"`
	Completed      int64    `json:"completed"`
	Exits          int64    `json:"exits"`
	CompletionRate float64  `json:"completion_rate"`
	// FromStart is entries of this step relative to entries of the first step.
	FromStart    float64  `json:"from_start"`
	AvgTimeSpent *float64 `json:"avg_time_spent_seconds,omitempty"`
}

type FunnelMetrics struct {
	Funnel string        `json:"funnel"`
	Start  *time.Time    `json:"start,omitempty"`
	End    *time.Time    `json:"end,omitempty"`
	Steps  []StepMetrics `json:"steps"`
	// Overall is completions of the last step relative to entries of the first.
	Overall float64 `json:"overall_conversion"`
}

// BuildFunnelMetrics lays the aggregated counts over the definition so steps with
// no visits still appear.
func BuildFunnelMetrics(def funnel.Definition, counts store.FunnelStepCounts) FunnelMetrics {
	type key struct {
		name  string
		order int
	}
	all := map[key]store.StepCount{}
	done := map[key]store.StepCount{}
	exits := map[key]store.StepCount{}
	for _, c := range counts.All {
		all[key{c.StepName, c.StepOrder}] = c
	}
	for _, c := range counts.Completed {
		done[key{c.StepName, c.StepOrder}] = c
	}
	for _, c := range counts.Exits {
		exits[key{c.StepName, c.StepOrder}] = c
	}

	out := FunnelMetrics{Funnel: def.Name, Steps: make([]StepMetrics, 0, len(def.Steps))}
	var first int64
	for i, s := range def.Steps {
		k := key{s.Name, s.Order}
		m := StepMetrics{
			Step:         s.Name,
			Order:        s.Order,
			Entered:      all[k].Count,
			Completed:    done[k].Count,
			Exits:        exits[k].Count,
			AvgTimeSpent: done[k].AvgTimeSpent,
		}
		if i == 0 {
			first = m.Entered
		}
		m.CompletionRate = ratio(m.Completed, m.Entered)
		m.FromStart = ratio(m.Entered, first)
		out.Steps = append(out.Steps, m)
	}
	if n := len(out.Steps); n > 0 {
		out.Overall = ratio(out.Steps[n-1].Completed, first)
	}
	return out
}

func ratio(a, b int64) float64 {
	if b <= 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// GET /api/funnels
func FunnelsHandler(catalog *funnel.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if catalog == nil {
			respondErr(c, http.StatusNotImplemented, "funnels not configured")
			return
		}
		respondOK(c, gin.H{"items": catalog.All()})
	}
}

// GET /api/funnels/:name/metrics?start=&end=
func FunnelMetricsHandler(db *gorm.DB, catalog *funnel.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil || catalog == nil {
			respondErr(c, http.StatusNotImplemented, "database not configured")
			return
		}
		def, ok := catalog.Get(strings.TrimSpace(c.Param("name")))
		if !ok {
			respondErr(c, http.StatusNotFound, "unknown funnel")
			return
		}
		var start, end *time.Time
		if t, ok := parseTime(c.Query("start")); ok {
			start = &t
		}
		if t, ok := parseTime(c.Query("end")); ok {
			end = &t
		}
		if start != nil && end != nil && end.Before(*start) {
			respondErr(c, http.StatusBadRequest, "end before start")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		counts, err := store.CountFunnelSteps(ctx, db, def.Name, start, end)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		out := BuildFunnelMetrics(def, counts)
		out.Start, out.End = start, end
		respondOK(c, out)
	}
}

// GET /api/funnels/:name/live?date=YYYY-MM-DD
func FunnelLiveHandler(recorder *metrics.RedisRecorder, catalog *funnel.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if recorder == nil || catalog == nil {
			respondErr(c, http.StatusNotImplemented, "metrics not configured")
			return
		}
		def, ok := catalog.Get(strings.TrimSpace(c.Param("name")))
		if !ok {
			respondErr(c, http.StatusNotFound, "unknown funnel")
			return
		}
		day, ok := parseTime(c.Query("date"))
		if !ok {
			day = time.Now().UTC()
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		steps, err := recorder.FunnelDay(ctx, def.Name, day)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondOK(c, gin.H{
			"funnel": def.Name,
			"date":   day.Format("2006-01-02"),
			"steps":  steps,
		})
	}
}
