// Package main provides the entry point for the access service. It wires the
// access store, capacity cache, performance monitor and lifecycle sweeper,
// sets up HTTP routes with middleware and serves with graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/access"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/cache"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/client"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/client/notification"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/constants"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/database/mysql"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/database/postgres"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/events"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/handlers"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/middleware"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/monitor"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/recovery"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/redis"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/repository"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/startup"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/telemetry"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/token"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/validation"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

const serviceClientTimeout = 10 * time.Second

// app holds the long-lived components so they can be shut down in order.
type app struct {
	cfg *config.Config
	log *logrus.Logger

	telemetry   *telemetry.Provider
	postgresMgr *postgres.Manager
	mysqlMgr    *mysql.Manager
	redisClient *redis.Client
	store       repository.Store
	backend     string
	cache       *cache.CapacityCache
	monitor     *monitor.Monitor
	dispatcher  *events.AsyncDispatcher
	lifecycle   *access.LifecycleService
	accessSvc   access.Service
	adminSvc    access.AdminService
	tokens      token.Service
	validator   *validation.Validator
}

func main() {
	// Load .env.local file only in development (when GO_ENV is not set or set to "development")
	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" || goEnv == "development" {
		if err := godotenv.Load(".env.local"); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Error loading .env.local file: %v\n", err)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithConfig(&cfg.Logging)
	log.Info("Starting Access Service")
	log.WithFields(logrus.Fields{
		"version": "1.0.0",
		"port":    cfg.Server.Port,
		"host":    cfg.Server.Host,
		"tls":     cfg.IsTLSEnabled(),
		"backend": cfg.Access.Backend,
	}).Info("Service configuration loaded")

	a := initializeServices(cfg, log)
	defer a.close()

	seeder := startup.NewCodeSeedingService(cfg, a.adminSvc, a.validator, log)
	if _, seedErr := seeder.SeedCodes(context.Background()); seedErr != nil {
		log.WithError(seedErr).Error("Failed to seed access codes during startup")
	}

	if cfg.Access.CleanupEnabled {
		a.lifecycle.Start(context.Background())
		log.WithFields(logrus.Fields{
			"idle_threshold":   a.lifecycle.IdleThreshold().String(),
			"cleanup_interval": cfg.Access.CleanupInterval.String(),
		}).Info("Session cleanup started")
	}

	server := a.setupServer()
	runServer(server, cfg, log)
}

func initializeServices(cfg *config.Config, log *logrus.Logger) *app {
	a := &app{cfg: cfg, log: log}

	provider, err := telemetry.NewProvider(context.Background(), &cfg.Telemetry, log)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize tracing, continuing without export")
	} else {
		provider.SetGlobal()
		a.telemetry = provider
	}

	a.postgresMgr = postgres.NewManager(cfg, log)
	a.mysqlMgr = mysql.NewManager(cfg, log)
	a.connectRedis()
	a.store, a.backend = a.selectStore()

	a.cache = cache.New(&cfg.Cache, log)
	a.cache.Start()

	a.tokens = token.NewJWTService(&cfg.JWT)
	a.validator = validation.New(log)

	notifier := newOperatorNotifier(cfg, log)
	a.monitor = monitor.New(&cfg.Monitor, log,
		monitor.WithRegisterer(prometheus.DefaultRegisterer),
		monitor.WithCriticalAlertHandler(func(alert models.Alert) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Notification.Timeout)
			defer cancel()
			if notifyErr := notifier.NotifyOperators(ctx, models.NewPerformanceAlert(alert)); notifyErr != nil {
				log.WithError(notifyErr).Warn("Failed to notify operators of performance alert")
			}
		}),
	)
	a.monitor.Start()

	a.dispatcher = events.NewAsyncDispatcher(a.eventPublisher(), &cfg.Events, log)

	deps := access.Dependencies{
		Store:    a.store,
		Cache:    a.cache,
		Policy:   recovery.NewPolicy(&cfg.Recovery, log),
		Monitor:  a.monitor,
		Tokens:   a.tokens,
		Events:   a.dispatcher,
		Notifier: notifier,
		Logger:   log,
	}
	a.accessSvc = access.NewRedemptionService(&cfg.Access, deps)
	a.lifecycle = access.NewLifecycleService(&cfg.Access, deps)
	a.adminSvc = access.NewAdminService(&cfg.Access, a.lifecycle, deps)

	return a
}

// connectRedis connects the Redis client used by the redis backend and by
// rate limiting. A failed connection disables both.
func (a *app) connectRedis() {
	rc, err := redis.NewClient(&a.cfg.Redis, a.log)
	if err != nil {
		a.log.WithError(err).Warn("Failed to connect to Redis")
		return
	}
	a.redisClient = rc
	a.log.Info("Successfully connected to Redis")
}

// selectStore picks the access store. Auto prefers PostgreSQL, then Redis,
// then the in-memory store.
func (a *app) selectStore() (repository.Store, string) {
	backend := a.cfg.Access.Backend

	usePostgres := backend == config.BackendPostgres ||
		backend == config.BackendAuto && a.cfg.IsPostgresDatabaseConfigured()
	if usePostgres {
		if !a.postgresMgr.IsAvailable() {
			a.log.Warn("PostgreSQL access store is not reachable yet; requests will fail until it connects")
		}
		return repository.NewPostgresStore(a.postgresMgr.Pool), config.BackendPostgres
	}

	useRedis := backend == config.BackendRedis || backend == config.BackendAuto
	if useRedis && a.redisClient != nil {
		return a.redisClient, config.BackendRedis
	}
	if backend == config.BackendRedis {
		a.log.Error("Redis backend requested but Redis is unavailable, falling back to in-memory store")
	}

	a.log.Warn("Using in-memory access store; usage and sessions will not survive restarts")
	return redis.NewMemoryStore(a.log), config.BackendMemory
}

// eventPublisher fans lifecycle events out to Kafka and the MySQL audit table
// when they are configured.
func (a *app) eventPublisher() events.Publisher {
	var publishers []events.Publisher

	if a.cfg.IsKafkaConfigured() {
		kafka, err := events.NewKafkaPublisher(&a.cfg.Kafka, a.log)
		if err != nil {
			a.log.WithError(err).Warn("Failed to initialize Kafka publisher")
		} else {
			publishers = append(publishers, kafka)
		}
	}

	if a.cfg.IsMySQLDatabaseConfigured() {
		publishers = append(publishers, events.NewAuditPublisher(repository.NewMySQLAuditRepository(a.mysqlMgr.DB)))
	}

	if len(publishers) == 0 {
		return events.NoopPublisher{}
	}
	return events.NewMultiPublisher(publishers...)
}

func newOperatorNotifier(cfg *config.Config, log *logrus.Logger) *notification.OperatorNotifier {
	urls := cfg.GetServiceURLs()

	tokens := client.NewTokenManager(
		cfg.ServiceClient.ClientID,
		cfg.ServiceClient.ClientSecret,
		urls.AuthServiceTokenURL,
		log,
	)
	base := client.NewBaseClient(urls.NotificationServiceBaseURL, serviceClientTimeout, log)
	sender := notification.NewClient(client.NewAuthClient(base, tokens), log)

	return notification.NewOperatorNotifier(sender, &cfg.Notification, log)
}

func (a *app) setupServer() *http.Server {
	healthDeps := handlers.HealthDependencies{
		Store:         a.store,
		Backend:       a.backend,
		CacheStats:    a.cache.Stats,
		DroppedEvents: a.dispatcher.Dropped,
	}
	if a.cfg.IsMySQLDatabaseConfigured() {
		healthDeps.AuditDB = a.mysqlMgr
	}

	healthHandler := handlers.NewHealthHandler(a.cfg, healthDeps, prometheus.DefaultRegisterer, a.log)
	accessHandler := handlers.NewAccessHandler(a.accessSvc, a.validator, a.log)
	adminHandler := handlers.NewAdminHandler(a.adminSvc, a.validator, a.cfg, a.log)

	var rdb *goredis.Client
	if a.redisClient != nil {
		rdb = a.redisClient.GetRedisClient()
	}
	middlewareStack := middleware.NewStack(a.cfg, rdb, a.log)

	router := mux.NewRouter()
	apiV1Router := router.PathPrefix(constants.APIPrefix).Subrouter()

	healthHandler.RegisterRoutes(apiV1Router)
	apiV1Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	accessHandler.RegisterRoutes(apiV1Router)

	adminRouter := apiV1Router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middlewareStack.AdminAuth(a.tokens))
	adminHandler.RegisterRoutes(adminRouter)

	finalHandler := middlewareStack.Chain(
		router,
		middlewareStack.Recovery,
		middlewareStack.RequestLogger,
		middlewareStack.SecurityHeaders,
		middlewareStack.CORS,
		middlewareStack.RateLimit,
		middlewareStack.ContentType,
	)

	return &http.Server{
		Addr:         a.cfg.ServerAddr(),
		Handler:      finalHandler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}
}

// close stops background work first, then drains events and closes stores.
func (a *app) close() {
	if a.cfg.Access.CleanupEnabled && a.lifecycle != nil {
		a.lifecycle.Stop()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			a.log.WithError(err).Error("Failed to flush lifecycle events")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.WithError(err).Error("Failed to stop capacity cache")
		}
	}
	if a.store != nil && a.store != repository.Store(a.redisClient) {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Error("Failed to close access store")
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.WithError(err).Error("Failed to close Redis connection")
		}
	}
	a.postgresMgr.Close()
	a.mysqlMgr.Close()
	a.log.Info("Database connections closed")

	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.log.WithError(err).Warn("Failed to flush traces")
		}
	}
}

func runServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	go startServer(server, cfg, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Server forced to shutdown")
	} else {
		log.Info("Server exited gracefully")
	}
}

func startServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	log.WithFields(logrus.Fields{
		"addr": server.Addr,
		"tls":  cfg.IsTLSEnabled(),
	}).Info("Starting HTTP server")

	var startErr error
	if cfg.IsTLSEnabled() {
		startErr = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
	} else {
		startErr = server.ListenAndServe()
	}

	if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
		log.WithError(startErr).Fatal("Failed to start server")
	}
}
