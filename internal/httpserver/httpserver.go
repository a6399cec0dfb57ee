package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swgui "github.com/swaggest/swgui/v3"
	"github.com/xokuso/peluquerias-app-sub000/internal/config"
	"github.com/xokuso/peluquerias-app-sub000/internal/funnel"
	"github.com/xokuso/peluquerias-app-sub000/internal/heatmap"
	"github.com/xokuso/peluquerias-app-sub000/internal/ingest"
	"github.com/xokuso/peluquerias-app-sub000/internal/metrics"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/openapi"
	"github.com/xokuso/peluquerias-app-sub000/internal/query"
	"github.com/xokuso/peluquerias-app-sub000/internal/queue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const beaconPath = "/api/track/beacon"

// Deps are the components the HTTP surface reads from or writes to. Nil members
// disable the routes that need them.
type Deps struct {
	Publisher queue.Publisher
	DB        *gorm.DB
	Redis     *redis.Client
	Recorder  *metrics.RedisRecorder
	Catalog   *funnel.Catalog
	Heatmap   *heatmap.Aggregator
	Queue     query.Pinger
	Pixel     query.PixelState
	Stats     *obs.Stats
	Logger    *zap.Logger
}

func New(cfg config.Config, d Deps) *http.Server {
	router := gin.New()
	router.RemoteIPHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		if d.Logger != nil {
			d.Logger.Warn("ignoring trusted proxies", zap.Strings("proxies", cfg.TrustedProxies), zap.Error(err))
		}
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())
	router.Use(accessMiddleware(d.Stats, d.Logger))
	router.Use(corsMiddleware())
	router.Use(maintenanceMiddleware(cfg.MaintenanceMode))

	router.GET("/openapi.json", func(c *gin.Context) { c.JSON(http.StatusOK, openapi.Spec()) })
	router.GET("/docs/*any", gin.WrapH(swgui.New("tracking API", "/openapi.json", "/docs")))

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if cfg.EnableDebugEndpoints {
		router.GET("/debug/metrics", query.DebugMetricsHandler(d.Stats))
	}

	api := router.Group("/api")
	api.GET("/status", query.StatusHandler(query.StatusDeps{
		DB:          d.DB,
		Redis:       d.Redis,
		Queue:       d.Queue,
		Pixel:       d.Pixel,
		Maintenance: cfg.MaintenanceMode,
	}))

	track := api.Group("/track")
	if cfg.RateLimitPerSec > 0 {
		track.Use(rateLimitMiddleware(newIPRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst)))
	}
	{
		track.POST("", ingest.TrackHandler(d.Publisher, d.Logger))
		track.POST("/", ingest.TrackHandler(d.Publisher, d.Logger))
		track.POST("/beacon", ingest.BeaconHandler(d.Publisher, d.Logger))
	}

	if d.Catalog != nil {
		api.GET("/funnels", query.FunnelsHandler(d.Catalog))
	}
	if d.DB != nil {
		api.GET("/funnels/:name/metrics", query.FunnelMetricsHandler(d.DB, d.Catalog))
		api.GET("/sessions/:id", query.SessionHandler(d.DB))
	}
	if d.Heatmap != nil {
		api.GET("/heatmap", query.HeatmapHandler(d.Heatmap))
	}
	if d.Recorder != nil {
		api.GET("/funnels/:name/live", query.FunnelLiveHandler(d.Recorder, d.Catalog))
		api.GET("/metrics/today", query.MetricsTodayHandler(d.Recorder))
		api.GET("/metrics/dist", query.DistributionHandler(d.Recorder))
	}

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
