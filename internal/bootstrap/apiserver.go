// Package bootstrap assembles the full application from configuration:
// storage, cache, messaging, metrics, the analysis service, and the
// interface layer on top. Both the CLI serve command and the dedicated
// binaries use it.
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	appdemand "github.com/urbanpulse/demandmap/internal/application/demand"
	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/infrastructure/database/postgres"
	"github.com/urbanpulse/demandmap/internal/infrastructure/database/postgres/repositories"
	"github.com/urbanpulse/demandmap/internal/infrastructure/database/redis"
	"github.com/urbanpulse/demandmap/internal/infrastructure/messaging/kafka"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/prometheus"
	httpiface "github.com/urbanpulse/demandmap/internal/interfaces/http"
	"github.com/urbanpulse/demandmap/internal/interfaces/http/handlers"
)

// App holds the assembled application and its closable resources.
type App struct {
	Config  *config.Config
	Logger  logging.Logger
	Service appdemand.Service

	Collector prometheus.MetricsCollector
	Metrics   *prometheus.AppMetrics

	DB       *postgres.Connection
	Redis    *redis.Client
	Producer *kafka.Producer
}

// NewApp wires the application for the given source label ("apiserver",
// "worker"). Postgres is mandatory; Redis and Kafka degrade to warnings so a
// broken cache or bus does not keep analyses from running.
func NewApp(cfg *config.Config, log logging.Logger, source string) (*App, error) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace: "demandmap",
	}, log)
	if err != nil {
		return nil, err
	}
	metrics := prometheus.NewAppMetrics(collector)

	db, err := postgres.NewConnection(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.MigrationPath != "" {
		if err := db.RunMigrations(cfg.Database.MigrationPath); err != nil {
			db.Close()
			return nil, err
		}
	}

	app := &App{
		Config:    cfg,
		Logger:    log,
		Collector: collector,
		Metrics:   metrics,
		DB:        db,
	}

	opts := []appdemand.Option{appdemand.WithMetrics(metrics)}

	redisClient, err := redis.NewClient(cfg.Redis, log)
	if err != nil {
		log.Warn("redis unavailable, running without cache", logging.Err(err))
	} else {
		app.Redis = redisClient
		cacheOpts := []redis.CacheOption{}
		if cfg.Redis.KeyPrefix != "" {
			cacheOpts = append(cacheOpts, redis.WithPrefix(cfg.Redis.KeyPrefix))
		}
		if cfg.Redis.DefaultTTL > 0 {
			cacheOpts = append(cacheOpts, redis.WithDefaultTTL(cfg.Redis.DefaultTTL))
		}
		opts = append(opts, appdemand.WithCache(redis.NewCache(redisClient, log, cacheOpts...)))
	}

	producer, err := kafka.NewProducer(cfg.Kafka, source, log)
	if err != nil {
		log.Warn("kafka unavailable, running without events", logging.Err(err))
	} else {
		app.Producer = producer
		opts = append(opts, appdemand.WithPublisher(producer))
	}

	obsRepo := repositories.NewObservationRepository(db.DB(), log)
	fitRepo := repositories.NewFitRunRepository(db.DB(), log)
	app.Service = appdemand.NewService(cfg.Fit, cfg.Residuals, obsRepo, fitRepo, log, opts...)

	return app, nil
}

// Router builds the HTTP route tree over the assembled application.
func (a *App) Router() *httpiface.Server {
	checks := map[string]handlers.HealthCheck{
		"postgres": a.DB.HealthCheck,
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Ping
	}

	router := httpiface.NewRouter(httpiface.RouterConfig{
		AnalysisHandler: handlers.NewAnalysisHandler(a.Service, a.Logger),
		HealthHandler:   handlers.NewHealthHandler(checks, a.Logger, a.Metrics),
		Logger:          a.Logger,
		Metrics:         a.Metrics,
		Collector:       a.Collector,
		Mode:            a.Config.Server.Mode,
	})
	return httpiface.NewServer(a.Config.Server, router, a.Logger)
}

// Close releases every held resource.
func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.Logger.Warn("failed to close kafka producer", logging.Err(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", logging.Err(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("failed to close database", logging.Err(err))
		}
	}
}

// RunAPIServer assembles the application and serves HTTP until SIGINT or
// SIGTERM.
func RunAPIServer(cfg *config.Config, log logging.Logger) error {
	app, err := NewApp(cfg, log, "apiserver")
	if err != nil {
		return err
	}
	defer app.Close()

	srv := app.Router()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", logging.String("signal", sig.String()))
		return srv.Stop(context.Background())
	}
}
