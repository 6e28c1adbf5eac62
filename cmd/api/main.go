package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tilestock/stock-service/internal/application"
	"github.com/tilestock/stock-service/internal/infrastructure/events"
	mongoRepo "github.com/tilestock/stock-service/internal/infrastructure/mongodb"
	"github.com/tilestock/stock-service/pkg/auth"
	"github.com/tilestock/stock-service/pkg/cloudevents"
	"github.com/tilestock/stock-service/pkg/idempotency"
	idempotencyMongo "github.com/tilestock/stock-service/pkg/idempotency/mongodb"
	"github.com/tilestock/stock-service/pkg/kafka"
	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/metrics"
	"github.com/tilestock/stock-service/pkg/middleware"
	"github.com/tilestock/stock-service/pkg/mongodb"
	"github.com/tilestock/stock-service/pkg/outbox"
	outboxMongo "github.com/tilestock/stock-service/pkg/outbox/mongodb"
	"github.com/tilestock/stock-service/pkg/tracing"
)

const serviceName = "stock-service"

func main() {
	config := loadConfig()

	logger := logging.New(logging.DefaultConfig(serviceName))
	logger.SetDefault()
	logger.Info("Starting stock-service API")

	if config.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.OTLPEndpoint = config.OTLPEndpoint
	tracingConfig.Environment = config.Environment
	tracingConfig.Enabled = config.TracingEnabled

	tracerProvider, err := tracing.Initialize(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		// Continue without tracing
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "endpoint", tracingConfig.OTLPEndpoint)
	}

	m := metrics.New(metrics.DefaultConfig(serviceName))

	// Initialize MongoDB with instrumentation
	mongoClient, err := mongodb.NewClient(ctx, config.MongoDB)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	instrumentedMongo := mongodb.NewInstrumentedClient(mongoClient, m, logger)
	defer instrumentedMongo.Close(context.Background())
	logger.Info("Connected to MongoDB", "database", config.MongoDB.Database)

	// Kafka producer behind a circuit breaker
	producer := kafka.NewProductionProducer(config.Kafka, m, logger)
	defer producer.Close()
	logger.Info("Kafka producer initialized", "brokers", config.Kafka.Brokers)

	outboxRepo := outboxMongo.NewOutboxRepository(instrumentedMongo)
	if err := outboxRepo.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Warn("Failed to create outbox indexes")
	}

	outboxPublisher := outbox.NewPublisher(outboxRepo, producer, logger, m, &outbox.PublisherConfig{
		PollInterval: config.OutboxPollInterval,
		BatchSize:    100,
		Retention:    7 * 24 * time.Hour,
	})
	if err := outboxPublisher.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start outbox publisher")
		os.Exit(1)
	}
	defer outboxPublisher.Stop()
	logger.Info("Outbox publisher started", "pollInterval", config.OutboxPollInterval)

	idempotencyRepo := idempotencyMongo.NewKeyRepository(instrumentedMongo)
	if err := idempotencyRepo.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Warn("Failed to create idempotency indexes")
	}

	// Repositories
	tiles := mongoRepo.NewTileRepository(instrumentedMongo)
	txns := mongoRepo.NewStockTransactionRepository(instrumentedMongo)
	sales := mongoRepo.NewSaleRepository(instrumentedMongo)
	shops := mongoRepo.NewShopRepository(instrumentedMongo)
	counters := mongoRepo.NewCounterRepository(instrumentedMongo)

	publisher := events.NewOutboxPublisher(outboxRepo, cloudevents.NewEventFactory(cloudevents.SourceStockService))

	svc := &services{
		stock:  application.NewStockService(tiles, txns, publisher, logger, m),
		sale:   application.NewSaleService(tiles, sales, txns, counters, publisher, logger, m),
		tile:   application.NewTileService(tiles, txns, shops, counters, publisher, logger, m, config.LowStockThreshold),
		report: application.NewReportService(txns, logger),
		shop:   application.NewShopService(shops, logger, config.LowStockThreshold),
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(svc, routerConfig{
		Verifier:          auth.NewVerifier(config.JWTSecret),
		Logger:            logger,
		Metrics:           m,
		ExposeErrorCauses: !config.IsProduction(),
		Idempotency:       idempotencyRepo,
		AllowedOrigins:    config.AllowedOrigins,
		Ready: func() error {
			return instrumentedMongo.HealthCheck(ctx)
		},
	})

	srv := &http.Server{
		Addr:         config.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
		}
	}()
	logger.Info("Server started", "addr", config.ServerAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped")
}

// services bundles the application services the handlers call
type services struct {
	stock  *application.StockService
	sale   *application.SaleService
	tile   *application.TileService
	report *application.ReportService
	shop   *application.ShopService
}

type routerConfig struct {
	Verifier          *auth.Verifier
	Logger            *logging.Logger
	Metrics           *metrics.Metrics
	ExposeErrorCauses bool
	Idempotency       idempotency.Repository
	AllowedOrigins    []string
	Ready             func() error
}

func newRouter(svc *services, config routerConfig) *gin.Engine {
	router := gin.New()

	middlewareConfig := middleware.DefaultConfig(serviceName, config.Logger.Logger)
	middlewareConfig.ExposeErrorCauses = config.ExposeErrorCauses
	middlewareConfig.AllowedOrigins = config.AllowedOrigins
	middlewareConfig.CORSAllowHeaders = []string{idempotency.HeaderKey}
	middlewareConfig.CORSExposeHeaders = []string{idempotency.HeaderReplayed}
	middleware.Setup(router, middlewareConfig)
	router.Use(middleware.MetricsMiddleware(config.Metrics))

	router.NoRoute(middleware.NoRoute())
	router.NoMethod(middleware.NoMethod())

	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, config.Ready))
	router.GET("/metrics", middleware.MetricsEndpoint(config.Metrics))

	logger := config.Logger
	api := router.Group("/api/v1")
	api.Use(middleware.Authenticate(config.Verifier))

	// retried stock movements and sales must not apply twice
	var once gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if config.Idempotency != nil {
		idemConfig := idempotency.DefaultConfig(config.Idempotency, logger)
		idemConfig.Metrics = config.Metrics
		idemConfig.Scope = idempotencyScope
		once = idempotency.Middleware(idemConfig)
	}
	{
		tiles := api.Group("/tiles")
		// Static routes before the :id routes
		tiles.GET("/low-stock", lowStockHandler(svc.tile, logger))
		tiles.POST("", createTileHandler(svc.tile, logger))
		tiles.GET("", listTilesHandler(svc.tile, logger))
		tiles.GET("/:id", getTileHandler(svc.tile, logger))
		tiles.PATCH("/:id", updateTileHandler(svc.tile, logger))
		tiles.DELETE("/:id", deleteTileHandler(svc.tile, logger))
		tiles.POST("/:id/stock/add", once, addStockHandler(svc.stock, logger))
		tiles.POST("/:id/stock/remove", once, removeStockHandler(svc.stock, logger))
		tiles.PUT("/:id/stock", setQuantityHandler(svc.stock, logger))

		sales := api.Group("/sales")
		sales.POST("", once, createSaleHandler(svc.sale, logger))
		sales.GET("", listSalesHandler(svc.sale, logger))
		sales.GET("/:id", getSaleHandler(svc.sale, logger))
		sales.PATCH("/:id", updateSaleHandler(svc.sale, logger))
		sales.POST("/:id/cancel", cancelSaleHandler(svc.sale, logger))
		sales.POST("/:id/deliver", deliverSaleHandler(svc.sale, logger))

		reports := api.Group("/reports")
		reports.GET("/transactions", reportHandler(svc.report, logger))
		reports.DELETE("/transactions", clearReportHandler(svc.report, logger))
		reports.DELETE("/transactions/:id", deleteTransactionHandler(svc.report, logger))

		shops := api.Group("/shops")
		shops.GET("/:id", getShopHandler(svc.shop, logger))
		shops.PUT("/:id/settings", updateShopSettingsHandler(svc.shop, logger))
	}

	return router
}

// idempotencyScope keys records by shop and subject of the bearer token
func idempotencyScope(c *gin.Context) string {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return ""
	}
	return claims.ShopID + "/" + claims.UserID()
}
