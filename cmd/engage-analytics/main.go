package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/engage/pkg/analytics"
	"github.com/platinummonkey/engage/pkg/cache"
	"github.com/platinummonkey/engage/pkg/config"
	"github.com/platinummonkey/engage/pkg/observability"
	"github.com/platinummonkey/engage/pkg/storage/postgres"
)

var (
	configFile  = flag.String("config", os.Getenv("ENGAGE_CONFIG_FILE"), "Path to YAML configuration file (hot-reloaded)")
	report      = flag.String("report", "", "Compute one report, print it as JSON and exit (series, trend, anomaly, comparative, summary, contact, account)")
	metric      = flag.String("metric", string(analytics.MetricDonations), "Metric for series, trend and anomaly reports")
	months      = flag.Int("months", 0, "Window in months (0 uses the configured default)")
	sensitivity = flag.Float64("sensitivity", 0, "Anomaly sensitivity (0 uses the configured default)")
	period      = flag.String("period", string(analytics.PeriodMonth), "Period type for comparative reports (month, quarter, year)")
	entityID    = flag.String("id", "", "Contact or account ID")
	from        = flag.String("from", "", "Summary range start (YYYY-MM-DD)")
	to          = flag.String("to", "", "Summary range end (YYYY-MM-DD)")
	invalidate  = flag.Bool("invalidate", false, "Drop all cached reports and exit")
)

const version = "1.0.0"

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("engage-analytics failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(ctx, cfg.Observability.OTel(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, err := postgres.NewConnectionManager(cfg.Postgres.Connection(), log)
	if err != nil {
		return err
	}

	store, redisClient := buildCache(cfg.Cache, log)

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	engine := analytics.NewEngine(db,
		analytics.WithLogger(log),
		analytics.WithDefaults(cfg.Analytics.Defaults()),
	)
	reports := analytics.NewCachedEngine(engine, store,
		analytics.WithTTLs(cfg.Cache.TTLs()),
		analytics.WithRecorder(metrics),
		analytics.WithCacheLogger(log),
	)

	// One-shot modes
	if *invalidate || *report != "" {
		defer store.Close()
		defer db.Close()
		defer observability.ShutdownTracing(context.Background(), tp, log)

		if *invalidate {
			if err := reports.Invalidate(ctx); err != nil {
				return fmt.Errorf("failed to invalidate cache: %w", err)
			}
			log.Info("Report cache invalidated")
			return nil
		}
		return runReport(ctx, reports, reportRequest{
			Report:      *report,
			Metric:      *metric,
			Months:      *months,
			Sensitivity: *sensitivity,
			Period:      *period,
			ID:          *entityID,
			From:        *from,
			To:          *to,
		}, os.Stdout)
	}

	db.StartHealthCheckRoutine(ctx, cfg.Postgres.HealthCheckInterval)

	// Cache warming
	scheduler := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log))))
	if cfg.Scheduler.WarmEnabled {
		_, err := scheduler.AddFunc(cfg.Scheduler.WarmSchedule, func() {
			warmCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()

			err := reports.Warm(warmCtx)
			metrics.RecordWarm(time.Now(), err)
			if err != nil {
				log.WithError(err).Error("Cache warm failed")
				return
			}
			log.Info("Cache warmed")
		})
		if err != nil {
			return fmt.Errorf("failed to schedule cache warming: %w", err)
		}
	}
	if cfg.Observability.MetricsEnabled {
		_, err := scheduler.AddFunc("@every 15s", func() {
			metrics.UpdateDBStats(db.Stats())
		})
		if err != nil {
			return fmt.Errorf("failed to schedule pool stats: %w", err)
		}
	}
	scheduler.Start()

	// Engine defaults follow the config file
	if *configFile != "" {
		watcher, err := config.NewWatcher(*configFile, log, func(next *config.Config) {
			engine.SetDefaults(next.Analytics.Defaults())
			log.WithFields(logrus.Fields{
				"months":      next.Analytics.DefaultMonths,
				"sensitivity": next.Analytics.DefaultSensitivity,
			}).Info("Analytics defaults updated")
		})
		if err != nil {
			log.WithError(err).Warn("Config hot reload disabled")
		} else {
			go watcher.Run(ctx)
		}
	}

	// Ops server
	router := mux.NewRouter()
	router.Use(observability.RecoveryMiddleware(log), observability.LoggingMiddleware(log))
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
		observability.RegisterMetricsEndpoint(router, registry)
	}
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error { return store.Close() })
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, log)
	})

	go func() {
		log.WithField("addr", server.Addr).Info("Ops server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Ops server failed")
			stop()
		}
	}()

	log.WithFields(logrus.Fields{
		"warm_schedule": cfg.Scheduler.WarmSchedule,
		"replicas":      len(db.AllReplicas()),
	}).Info("engage-analytics started")

	return shutdown.Wait(ctx)
}

// buildCache returns the report cache and, when redis is in use, its client
// for health checks. An unreachable redis degrades to an in-memory cache.
func buildCache(cfg config.CacheConfig, log logrus.FieldLogger) (cache.Cache, *redis.Client) {
	if !cfg.Enabled {
		return cache.Nop{}, nil
	}

	backend := cfg.Backend()
	if backend.RedisURL == "" {
		store, err := cache.New(backend)
		if err != nil {
			log.WithError(err).Warn("Report cache disabled")
			return cache.Nop{}, nil
		}
		return store, nil
	}

	l2, err := cache.NewRedisCache(backend)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, falling back to in-memory cache")
		return cache.NewMemoryCache(backend.L1MaxEntries, 0), nil
	}
	if backend.L1MaxEntries <= 0 {
		return l2, l2.Client()
	}
	return cache.NewTieredCache(cache.NewMemoryCache(backend.L1MaxEntries, backend.L1TTL), l2, backend.L1TTL), l2.Client()
}
