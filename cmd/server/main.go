package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	commandapp "github.com/evercore/backend/internal/application/command"
	"github.com/evercore/backend/internal/application/eventstore"
	inventoryapp "github.com/evercore/backend/internal/application/inventory"
	"github.com/evercore/backend/internal/application/procman"
	"github.com/evercore/backend/internal/application/scope"
	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/cache"
	"github.com/evercore/backend/internal/infrastructure/config"
	"github.com/evercore/backend/internal/infrastructure/event"
	"github.com/evercore/backend/internal/infrastructure/logger"
	"github.com/evercore/backend/internal/infrastructure/persistence"
	"github.com/evercore/backend/internal/infrastructure/queue"
	"github.com/evercore/backend/internal/infrastructure/scheduler"
	"github.com/evercore/backend/internal/infrastructure/telemetry"
	"github.com/evercore/backend/internal/interfaces/http/handler"
	"github.com/evercore/backend/internal/interfaces/http/middleware"
	"github.com/evercore/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//	@title			EverCore API
//	@version		1.0
//	@description	Event-sourced command processing core: append-only event store, consistency scopes, command dedup ledger and process managers

//	@contact.name	API Support
//	@contact.url	https://github.com/evercore/backend

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting EverCore",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Initialize tracing
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Log export bridge. When enabled, every record the base logger
	// accepts is also shipped to the collector.
	loggerProvider, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	defer func() {
		if err := loggerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()
	log = loggerProvider.BridgeZapLogger(log, zapcore.InfoLevel)

	// Processing meters export over the same collector endpoint
	meterProvider, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()
	procMetrics, err := telemetry.NewProcessingMetrics(meterProvider)
	if err != nil {
		log.Fatal("Failed to create processing metrics", zap.Error(err))
	}

	// Initialize database connection
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log, gormLogLevel)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Database statement tracing
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
			Enabled:             true,
			LogFullSQL:          cfg.Telemetry.DBLogFullSQL,
			SlowStatementThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:            "postgresql",
		}, log)
		if err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	// Repositories
	eventStore := persistence.NewGormEventStore(db.DB)
	scopeRepo := persistence.NewGormScopeRepository(db.DB)
	commandLedger := persistence.NewGormCommandLedger(db.DB)
	outboxRepo := persistence.NewGormCommandOutboxRepository(db.DB)
	stateRepo := persistence.NewGormProcessManagerStateRepository(db.DB)
	deadLetterRepo := persistence.NewGormDeadLetterRepository(db.DB)
	uow := persistence.NewUnitOfWork(db.DB, eventStore, scopeRepo, commandLedger, outboxRepo)

	// Event payload codec with all registered schemas
	codec := event.NewPayloadCodec()
	if err := inventoryapp.RegisterPayloads(codec); err != nil {
		log.Fatal("Failed to register event payloads", zap.Error(err))
	}

	// Idempotency store for delivery and submission dedup. Redis when
	// available, process-local otherwise.
	var idempotencyStore shared.IdempotencyStore
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisIdempotencyStore(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		idempotencyStore = redisStore
		log.Info("Redis dedup cache enabled",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port),
		)
	} else {
		idempotencyStore = cache.NewInMemoryIdempotencyStore()
	}

	// Core services
	eventService := eventstore.NewService(eventStore, codec, log, eventstore.WithMetrics(procMetrics))
	scopeManager := scope.NewManager(scopeRepo, eventStore, codec, uow, log)
	commandBus := commandapp.NewBus(commandLedger, log,
		commandapp.WithDedupeCache(idempotencyStore, shared.DefaultIdempotencyConfig()),
	)
	inventoryService := inventoryapp.NewService(eventService, scopeManager, commandBus, log)

	// Command transport for PM-emitted commands. Deliveries to the
	// downstream handler pass through the dedup wrapper because both
	// transports are at-least-once.
	deliveryHandler := queue.NewIdempotentHandler(loggingCommandHandler(log), idempotencyStore, log)

	var commandQueue shared.CommandQueue
	var redisQueue *queue.RedisCommandQueue
	if cfg.Queue.Transport == "redis" {
		redisQueue = queue.NewRedisCommandQueue(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), queue.DefaultRedisQueueConfig(), log)
		commandQueue = redisQueue
		log.Info("Redis command transport selected")
	} else {
		commandQueue = queue.NewOutboxCommandQueue(outboxRepo, log)
	}

	// Process-manager executor with the reservation PM registered
	executor := procman.NewExecutor(stateRepo, deadLetterRepo, commandQueue, codec, log,
		procman.WithMetrics(procMetrics),
	)
	if err := executor.Register(inventoryapp.NewReservationProcessManager()); err != nil {
		log.Fatal("Failed to register process manager", zap.Error(err))
	}

	// Dispatcher feeds committed events to the executor in global order
	if cfg.Dispatcher.Enabled {
		dispatcher := procman.NewDispatcher(eventStore, codec, executor, procman.DispatcherConfig{
			BatchSize:       cfg.Dispatcher.BatchSize,
			PollInterval:    cfg.Dispatcher.PollInterval,
			StartFromLatest: cfg.Dispatcher.StartFromLatest,
		}, log)
		if err := dispatcher.Start(context.Background()); err != nil {
			log.Fatal("Failed to start event dispatcher", zap.Error(err))
		}
		defer func() {
			if err := dispatcher.Stop(context.Background()); err != nil {
				log.Error("Error stopping event dispatcher", zap.Error(err))
			}
		}()
		log.Info("Event dispatcher started",
			zap.Int("batch_size", cfg.Dispatcher.BatchSize),
			zap.Duration("poll_interval", cfg.Dispatcher.PollInterval),
		)
	}

	// Consumer side of the command transport
	if redisQueue != nil {
		if err := redisQueue.Start(context.Background(), deliveryHandler); err != nil {
			log.Fatal("Failed to start redis command consumer", zap.Error(err))
		}
		defer func() {
			if err := redisQueue.Stop(context.Background()); err != nil {
				log.Error("Error stopping redis command consumer", zap.Error(err))
			}
		}()
	} else if cfg.Queue.ProcessorEnabled {
		outboxProcessor := queue.NewOutboxProcessor(outboxRepo, queue.OutboxProcessorConfig{
			BatchSize:        cfg.Queue.BatchSize,
			PollInterval:     cfg.Queue.PollInterval,
			CleanupEnabled:   cfg.Queue.CleanupEnabled,
			CleanupRetention: cfg.Queue.CleanupRetention,
			CleanupInterval:  cfg.Queue.CleanupInterval,
		}, log)
		if err := outboxProcessor.Start(context.Background(), deliveryHandler); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		defer func() {
			if err := outboxProcessor.Stop(context.Background()); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}()
	}

	// Periodic sweep of expired ledger entries
	if cfg.Sweeper.Enabled {
		sweeper := scheduler.NewSweeper(scheduler.SweeperConfig{Interval: cfg.Sweeper.Interval}, log,
			scheduler.SweepFunc{TaskName: "command_ledger_expiry", Fn: commandBus.SweepExpired},
		)
		if err := sweeper.Start(context.Background()); err != nil {
			log.Fatal("Failed to start sweeper", zap.Error(err))
		}
		defer func() {
			if err := sweeper.Stop(context.Background()); err != nil {
				log.Error("Error stopping sweeper", zap.Error(err))
			}
		}()
		log.Info("Expiry sweeper started", zap.Duration("interval", cfg.Sweeper.Interval))
	}

	// HTTP handlers
	eventStoreHandler := handler.NewEventStoreHandler(eventService)
	scopeHandler := handler.NewScopeHandler(scopeManager)
	commandHandler := handler.NewCommandHandler(commandBus)
	procmanHandler := handler.NewProcessManagerHandler(executor)
	inventoryHandler := handler.NewInventoryHandler(inventoryService)
	systemHandler := handler.NewSystemHandler()

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack: request ID first so it reaches the recovery
	// logger, then tracing so downstream spans carry the request ID.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.RequestLog(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORS())
	engine.Use(middleware.BodyLimit(4 << 20))
	if cfg.Telemetry.Enabled {
		engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     true,
		}))
		engine.Use(middleware.SpanErrorMarker())
	}

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db))

	// API routes
	r := router.New(engine, router.WithAPIVersion("v1"))
	r.Register(eventStoreHandler).
		Register(scopeHandler).
		Register(commandHandler).
		Register(procmanHandler).
		Register(inventoryHandler).
		Register(systemHandler)

	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// loggingCommandHandler is the delivery endpoint for commands emitted
// toward external contexts. There is no ordering service in this
// deployment, so delivered commands are logged and acknowledged.
func loggingCommandHandler(log *zap.Logger) shared.CommandHandler {
	return func(ctx context.Context, cmd *shared.QueuedCommand) error {
		ctx = logger.WithCommandID(ctx, cmd.CommandID)
		if cmd.CorrelationID != "" {
			ctx = logger.WithCorrelationID(ctx, cmd.CorrelationID)
		}
		logger.Enrich(ctx, log).Info("delivered outbound command",
			zap.String("command_type", cmd.CommandType),
			zap.String("target_context", cmd.TargetContext),
		)
		return nil
	}
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.FromGin(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
