package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"sluice/internal/admin"
	"sluice/internal/config"
	"sluice/internal/constants"
	"sluice/internal/emitter"
	"sluice/internal/enrichment"
	"sluice/internal/enrichment/provider"
	"sluice/internal/extraction"
	"sluice/internal/input"
	"sluice/internal/logger"
	"sluice/internal/normalizer"
	"sluice/internal/output"
	"sluice/internal/pipeline"
	"sluice/pkg/bootstrap"
	"sluice/pkg/health"
	"sluice/pkg/logging"
	"sluice/pkg/metrics"
	"sluice/pkg/ratelimit"
	"sluice/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	mongoClient    *mongo.Client
	postgresDB     *sql.DB
	tracerProvider *tracing.TracerProvider
	health         *health.CheckerRegistry

	failures output.FailureIndex
	router   *output.Router
	emitter  *emitter.Emitter
	pipeline *pipeline.Pipeline
	mux      *input.Multiplexer
	admin    *admin.Server
	limiter  *ratelimit.Limiter
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.Register()

	if err := a.initDatabases(ctx); err != nil {
		return err
	}

	processor, err := a.initProcessor(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	a.pipeline = pipeline.New(processor, a.Config.Pipeline, a.Logger.Named("pipeline"))
	a.mux = input.NewMultiplexer(a.pipeline, input.Options{
		RateLimit:   a.Config.RateLimit,
		Kafka:       a.Config.Broker.Kafka,
		NewConsumer: a.NewConsumer,
	}, a.Logger.Named("input"))

	a.initAdmin()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	if mongoClient != nil {
		a.mongoClient = mongoClient
		a.health.Register(health.NewMongoDBChecker(mongoClient))
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis initialization failed, geo cache will be disabled", "error", err)
	} else if rdb != nil {
		a.redis = rdb
		a.health.RegisterOptional(health.NewRedisChecker(rdb))
	}

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		if a.Config.Enrichment.Geo.Provider == constants.GeoProviderPostgres {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		a.Logger.WarnwCtx(ctx, "PostgreSQL initialization failed", "error", err)
	} else if db != nil {
		a.postgresDB = db
		a.health.RegisterOptional(health.NewPostgreSQLChecker(db))
	}
	return nil
}

func (a *App) initProcessor(ctx context.Context) (*pipeline.Processor, error) {
	cfg := a.Config

	engine, err := extraction.NewEngine(cfg.Extraction, cfg.Pipeline, a.Logger.Named("extraction"))
	if err != nil {
		return nil, err
	}

	lookup, err := provider.New(cfg.Enrichment.Geo, cfg.CircuitBreaker, a.postgresDB, a.redis, a.Logger.Named("geo"))
	if err != nil {
		return nil, err
	}
	chain, err := enrichment.NewChain(cfg.Enrichment, lookup, a.Logger.Named("enrichment"))
	if err != nil {
		return nil, err
	}

	norm := normalizer.New(cfg.Normalizer)

	if err := a.initRouter(ctx); err != nil {
		return nil, err
	}

	var metricsEmitter pipeline.MetricsEmitter
	if cfg.MetricsSink.Enabled {
		e, err := emitter.New(cfg.MetricsSink, a.Logger.Named("emitter"))
		if err != nil {
			return nil, err
		}
		a.emitter = e
		metricsEmitter = e
	}

	return pipeline.NewProcessor(engine, chain, norm, a.router, metricsEmitter, a.Logger.Named("processor")), nil
}

func (a *App) initRouter(ctx context.Context) error {
	deps := output.Dependencies{Console: os.Stdout}

	if a.mongoClient != nil {
		dbName := a.Config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		deps.Mongo = a.mongoClient.Database(dbName)

		failures, err := output.NewMongoFailureIndex(ctx, deps.Mongo, a.Config.Database.MongoDB.FailureCollection)
		if err != nil {
			return fmt.Errorf("failed to initialize failure index: %w", err)
		}
		a.failures = failures
	} else {
		a.Logger.WarnwCtx(ctx, "MongoDB not configured, failed batches are indexed in memory only")
		a.failures = output.NewMemoryFailureIndex(constants.MaxLimit)
	}
	deps.Failures = a.failures

	for _, d := range a.Config.Destinations {
		if d.Writer == constants.WriterKafka {
			a.InitProducer()
			deps.Producer = a.Producer
			break
		}
	}

	dests, err := output.BuildDestinations(a.Config.Destinations, a.Config.Pipeline.Debug, deps, a.Logger.Named("output"))
	if err != nil {
		return fmt.Errorf("failed to build destinations: %w", err)
	}
	router, err := output.NewRouter(dests, a.Logger.Named("router"))
	if err != nil {
		return err
	}
	a.router = router
	return nil
}

func (a *App) initAdmin() {
	if a.Config.RateLimit.Enabled {
		a.limiter = ratelimit.NewLimiter(ratelimit.Config{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		})
	}

	handler := admin.NewHandler(a.router, a.mux, a.pipeline, a.failures, a.health, a.Logger.Named("admin"))
	engine := admin.NewEngine(handler, a.limiter, a.Config.Tracing.Enabled, a.Logger.Named("admin"))
	a.admin = admin.NewServer(a.Config.Server, engine, a.Logger.Named("admin"))
}

// Run starts destinations before workers and workers before listeners, then
// blocks until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	runCtx := logging.WithServiceName(ctx, constants.ServiceName)

	a.router.Start()
	if a.emitter != nil {
		a.emitter.Start()
	}
	a.pipeline.Start()

	if err := a.mux.Start(runCtx, a.Config.Inputs); err != nil {
		return a.stop(fmt.Errorf("failed to start inputs: %w", err))
	}
	a.Logger.InfowCtx(runCtx, "Pipeline running",
		"inputs", len(a.Config.Inputs),
		"destinations", len(a.router.Destinations()),
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.admin.Run(gCtx)
	})
	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.Run(gCtx)
			return nil
		})
	}
	g.Go(func() error {
		<-gCtx.Done()
		serverCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultHTTPTimeout)
		defer cancel()
		if err := a.admin.Shutdown(serverCtx); err != nil {
			return fmt.Errorf("admin server shutdown error: %w", err)
		}
		return nil
	})

	return a.stop(g.Wait())
}

func (a *App) stop(runErr error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return constants.ShutdownTimeout
}

// Shutdown drains in-flight events through the workers, flushes every
// destination, then stops the listeners.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down sluice")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.pipeline != nil {
			if err := a.pipeline.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if a.router != nil {
			if err := a.router.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("destination flush error: %w", err))
			}
		}
		if a.emitter != nil {
			if err := a.emitter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("metrics emitter close error: %w", err))
			}
		}
		if a.mux != nil {
			if err := a.mux.Close(); err != nil {
				errs = append(errs, fmt.Errorf("listener close error: %w", err))
			}
		}
		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.postgresDB, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
