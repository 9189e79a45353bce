package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seu-repo/ocpp-datum/internal/adapter/cache"
	"github.com/seu-repo/ocpp-datum/internal/adapter/http/fiber/middleware"
	v16 "github.com/seu-repo/ocpp-datum/internal/adapter/ocpp/v16"
	"github.com/seu-repo/ocpp-datum/internal/adapter/queue"
	"github.com/seu-repo/ocpp-datum/internal/adapter/storage/postgres"
	"github.com/seu-repo/ocpp-datum/internal/adapter/vault"
	"github.com/seu-repo/ocpp-datum/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-datum/internal/ports"
	"github.com/seu-repo/ocpp-datum/internal/service/authorization"
	"github.com/seu-repo/ocpp-datum/internal/service/chargepoint"
	"github.com/seu-repo/ocpp-datum/internal/service/health"
	"github.com/seu-repo/ocpp-datum/internal/service/session"
	"github.com/seu-repo/ocpp-datum/internal/service/status"
	"github.com/seu-repo/ocpp-datum/pkg/config"
)

const serviceName = "ocpp-datum"

// maxPendingStatus is the status queue depth above which readiness degrades.
const maxPendingStatus = 10000

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// 2. Initialize Logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting OCPP datum service",
		zap.String("service", serviceName),
		zap.String("version", cfg.App.Version),
		zap.String("node_id", cfg.App.NodeID),
	)

	// 3. Resolve database credentials
	dbURL := cfg.Database.URL
	if cfg.Vault.Enabled {
		secrets, err := vault.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token, cfg.Vault.Mount)
		if err != nil {
			logger.Fatal("Failed to create vault client", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		dbURL, err = secrets.GetDatabaseURL(ctx, cfg.Vault.DatabasePath)
		cancel()
		if err != nil {
			logger.Fatal("Failed to read database URL from vault", zap.Error(err))
		}
	}

	// 4. Initialize OpenTelemetry (Distributed Tracing)
	if cfg.OpenTelemetry.Enabled {
		name := cfg.OpenTelemetry.ServiceName
		if name == "" {
			name = serviceName
		}
		tracerProvider, err := telemetry.InitTracer(name, cfg.App.Version, cfg.OpenTelemetry.Jaeger.Endpoint, cfg.OpenTelemetry.Jaeger.SamplerParam)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	// 5. Initialize PostgreSQL Connection Pool
	db, err := postgres.NewConnection(dbURL, postgres.Options{
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogSQL:          cfg.Database.LogQueries,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to get underlying SQL DB", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// 6. Initialize Cache (Redis, in-process when no URL is set)
	appCache := cache.New(cfg.Redis.URL, cfg.Redis.KeyPrefix, logger)
	defer appCache.Close()

	// 7. Initialize Realtime Bus
	busURL := cfg.NATS.URL
	if cfg.Realtime.Driver == queue.DriverRabbitMQ {
		busURL = cfg.RabbitMQ.URL
	}
	messageQueue, err := queue.New(cfg.Realtime.Driver, busURL, cfg.RabbitMQ.Exchange, logger)
	if err != nil {
		// Datum still reach the primary store without the bus.
		logger.Error("Realtime bus unavailable, publishing disabled", zap.String("driver", cfg.Realtime.Driver), zap.Error(err))
		messageQueue = nil
	}
	publisher := queue.NewDatumPublisher(messageQueue, cfg.Realtime.SubjectPrefix, queue.BreakerSettings{
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
		Interval:         cfg.CircuitBreaker.Interval,
		Timeout:          cfg.CircuitBreaker.Timeout,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
	}, logger)
	defer publisher.Close()

	// 8. Initialize Repositories
	clock := ports.SystemClock{}
	chargePointRepo := postgres.NewChargePointRepository(db, logger)
	settingsRepo := postgres.NewChargePointSettingsRepository(db, logger)
	authorizationRepo := postgres.NewAuthorizationRepository(db, logger)
	sessionRepo := postgres.NewChargeSessionRepository(db, logger)
	datumRepo := postgres.NewDatumRepository(db, logger)
	statusRepo := postgres.NewChargePointStatusRepository(db, logger)

	// 9. Initialize Services (Business Logic Layer)
	chargePointService := chargepoint.NewService(chargePointRepo, settingsRepo, appCache, cfg.Cache.SettingsTTL, logger)
	authorizationService := authorization.NewService(authorizationRepo, appCache, cfg.Cache.AuthorizationTTL, clock, logger)
	sessionManager := session.NewManager(authorizationService, chargePointService, sessionRepo, datumRepo, publisher, clock, logger)

	// 10. Start Status Coalescer
	statusQueue := status.NewCoalescer(statusRepo, clock, cfg.Status.FlushDelay, logger)
	statusQueue.Start()

	// 11. Initialize OCPP 1.6 Server
	ocppHandlers := v16.NewHandlers(chargePointRepo, chargePointService, authorizationService, sessionManager, clock, cfg.OCPP.HeartbeatInterval, logger)
	ocppServer := v16.NewServer(ocppHandlers, chargePointRepo, statusQueue, clock, v16.Options{
		Path:         cfg.OCPP.Path,
		NodeID:       cfg.App.NodeID,
		PingInterval: cfg.OCPP.WebsocketPingInterval,
	}, logger)
	go func() {
		var err error
		if cfg.OCPP.Security.Enabled {
			err = ocppServer.StartTLS(cfg.OCPP.Port, cfg.OCPP.Security.TLSCert, cfg.OCPP.Security.TLSKey)
		} else {
			err = ocppServer.Start(cfg.OCPP.Port)
		}
		if err != nil {
			logger.Fatal("OCPP Server failed", zap.Error(err))
		}
	}()

	// 12. Initialize Fiber HTTP Server (health and metrics)
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ServerHeader:          serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		IdleTimeout:           cfg.HTTP.IdleTimeout,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(logger))

	healthService := health.NewService(&health.Config{
		Version:          cfg.App.Version,
		DB:               sqlDB,
		Cache:            appCache,
		Realtime:         publisher,
		Status:           statusQueue,
		MaxPendingStatus: maxPendingStatus,
	}, logger)
	health.NewFiberHandler(healthService).RegisterRoutes(app)

	go func() {
		logger.Info("Starting HTTP Server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP Server failed", zap.Error(err))
		}
	}()

	// 13. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := ocppServer.Stop(ctx); err != nil {
		logger.Error("OCPP server forced to shutdown", zap.Error(err))
	}

	stopTimeout := cfg.Status.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := statusQueue.Stop(stopCtx, cfg.Status.DrainOnStop); err != nil {
		logger.Warn("Status queue did not drain", zap.Int("pending", statusQueue.Pending()), zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}
