package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xokuso/peluquerias-app-sub000/internal/cleanup"
	"github.com/xokuso/peluquerias-app-sub000/internal/config"
	"github.com/xokuso/peluquerias-app-sub000/internal/consumer"
	"github.com/xokuso/peluquerias-app-sub000/internal/enrich"
	"github.com/xokuso/peluquerias-app-sub000/internal/events"
	"github.com/xokuso/peluquerias-app-sub000/internal/funnel"
	"github.com/xokuso/peluquerias-app-sub000/internal/heatmap"
	"github.com/xokuso/peluquerias-app-sub000/internal/httpserver"
	"github.com/xokuso/peluquerias-app-sub000/internal/metrics"
	"github.com/xokuso/peluquerias-app-sub000/internal/obs"
	"github.com/xokuso/peluquerias-app-sub000/internal/pixel"
	"github.com/xokuso/peluquerias-app-sub000/internal/queue"
	"github.com/xokuso/peluquerias-app-sub000/internal/session"
	"github.com/xokuso/peluquerias-app-sub000/internal/track"
	"github.com/xokuso/peluquerias-app-sub000/internal/warehouse"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP ingestion and reporting server with its workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		return serve(cmd.Context(), cfg, logger)
	},
}

func serve(parent context.Context, cfg config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	logger.Info("config", zap.String("summary", cfg.String()))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := obs.New()

	gdb, closeDB, err := openDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	var rdb *redis.Client
	var recorder *metrics.RedisRecorder
	if cfg.EnableMetrics {
		rdb, err = metrics.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close()
			recorder = metrics.NewRedisRecorder(rdb)
		}
	}

	geoip, err := enrich.NewGeoIP(cfg.GeoIPCityMMDB)
	if err != nil {
		return err
	}
	defer geoip.Close()

	catalog, err := loadCatalog(cfg.FunnelsFile)
	if err != nil {
		return err
	}

	writers := consumer.NewWriters(cfg, gdb, stats)

	eventOpts := []events.Option{
		events.WithInserter(writers.InsertEvents),
		events.WithStats(stats),
		events.WithLogger(logger),
	}
	if cfg.ClickHouseAddr != "" {
		sink, err := warehouse.NewClickHouse(ctx, warehouse.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.EnsureSchema(ctx); err != nil {
			return err
		}
		eventOpts = append(eventOpts, events.WithSink(sink))
	}
	eventRecorder := events.NewRecorder(gdb, eventOpts...)

	var transport pixel.Transport
	if cfg.PixelEnabled {
		transport = pixel.NewGraphTransport(cfg.PixelID, cfg.PixelAccessToken, cfg.PixelAPIVersion, cfg.PixelTestEventCode)
	}
	dispatcher := pixel.New(transport,
		pixel.WithEnabled(cfg.PixelEnabled),
		pixel.WithDB(gdb),
		pixel.WithStats(stats),
		pixel.WithLogger(logger),
		pixel.WithQueueSize(cfg.PixelQueueSize),
		pixel.WithFlushInterval(cfg.PixelFlushInterval),
		pixel.WithRate(cfg.PixelRatePerSec),
	)

	funnelOpts := []funnel.Option{
		funnel.WithEvents(eventRecorder),
		funnel.WithPixel(dispatcher),
		funnel.WithStats(stats),
		funnel.WithLogger(logger),
		funnel.WithTick(cfg.FunnelTick),
	}
	if recorder != nil {
		funnelOpts = append(funnelOpts, funnel.WithObserver(recorder))
	}
	engine := funnel.New(gdb, catalog, funnelOpts...)

	sessionOpts := []session.Option{
		session.WithStats(stats),
		session.WithLogger(logger),
		session.WithPageViewInserter(writers.InsertPageViews),
	}
	if geoip != nil {
		sessionOpts = append(sessionOpts, session.WithGeo(geoip))
	}
	sessions := session.New(gdb, sessionOpts...)
	aggregator := heatmap.New(gdb, heatmap.WithStats(stats), heatmap.WithLogger(logger))

	components := track.Components{
		Sessions: sessions,
		Events:   eventRecorder,
		Heatmap:  aggregator,
		Funnels:  engine,
		Pixel:    dispatcher,
	}
	if recorder != nil {
		components.Live = recorder
	}
	tracker := track.New(components, track.WithStats(stats), track.WithLogger(logger))
	handler := consumer.NewSignalHandler(tracker, stats, logger)

	var (
		publisher   queue.Publisher
		queuePinger interface{ Ping() error }
		local       *queue.LocalPublisher
		nsqConsumer *consumer.NSQConsumer
	)
	if cfg.UseNSQ() {
		p, err := queue.NewNSQPublisher(cfg.NSQDAddress, logger)
		if err != nil {
			return err
		}
		defer p.Stop()
		publisher, queuePinger = p, p
		if cfg.RunConsumers {
			nsqConsumer, err = consumer.NewNSQSignalConsumer(ctx, cfg, handler, logger)
			if err != nil {
				return err
			}
		}
		go obs.NewNSQDepthPoller(cfg.NSQDHTTPAddress, queue.TopicSignals, logger).Run(ctx, stats, 5*time.Second)
	} else {
		local = queue.NewLocalPublisher(cfg.LocalWorkers, logger)
		local.Handle(queue.TopicSignals, handler.Handle)
		publisher = local
	}

	srv := httpserver.New(cfg, httpserver.Deps{
		Publisher: queue.ObservePublisher(publisher, stats),
		DB:        gdb,
		Redis:     rdb,
		Recorder:  recorder,
		Catalog:   catalog,
		Heatmap:   aggregator,
		Queue:     queuePinger,
		Pixel:     dispatcher,
		Stats:     stats,
		Logger:    logger,
	})

	cleaner := cleanup.NewWorker(gdb, sessions)
	cleaner.Funnels = engine
	cleaner.IdleAfter = cfg.SessionIdleExpiry
	cleaner.RetentionDays = cfg.RetentionDays
	cleaner.Stats = stats
	cleaner.Logger = logger

	stopPixel := runDispatcher(dispatcher)
	defer stopPixel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cleaner.Run(gctx, cfg.CleanupSchedule) })
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()

	pipeline{
		nsqConsumer: nsqConsumer,
		local:       local,
		engine:      engine,
		stopPixel:   stopPixel,
		writers:     writers,
	}.stop()
	logger.Info("stopped", zap.Any("stats", stats.Snapshot()))
	return err
}

// runDispatcher runs d until the returned stop is called. stop waits for the final
// flush and is safe to call more than once.
func runDispatcher(d *pixel.Dispatcher) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// pipeline is the signal path in shutdown order: consumers apply what is queued,
// the funnel watchdog stops, the dispatcher flushes the pixel events they
// produced, and the batch writers go last.
type pipeline struct {
	nsqConsumer *consumer.NSQConsumer
	local       *queue.LocalPublisher
	engine      *funnel.Engine
	stopPixel   func()
	writers     *consumer.Writers
}

func (p pipeline) stop() {
	if p.nsqConsumer != nil {
		p.nsqConsumer.Stop()
	}
	if p.local != nil {
		p.local.Close()
	}
	if p.engine != nil {
		p.engine.Stop()
	}
	if p.stopPixel != nil {
		p.stopPixel()
	}
	if p.writers != nil {
		p.writers.Close()
	}
}
