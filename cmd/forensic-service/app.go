package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/config"
	"erpmigrate/internal/connection"
	"erpmigrate/internal/constants"
	"erpmigrate/internal/logger"
	"erpmigrate/internal/management"
	"erpmigrate/internal/mapping"
	"erpmigrate/internal/migration"
	"erpmigrate/pkg/bootstrap"
	"erpmigrate/pkg/cel"
	"erpmigrate/pkg/circuitbreaker"
	"erpmigrate/pkg/health"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/middleware"
	"erpmigrate/pkg/ratelimit"
	"erpmigrate/pkg/tracing"
)

const (
	serviceName         = "forensic-service"
	mockProfileName     = "mock"
	defaultMockSystem   = "LN"
	storeConnectTimeout = 30 * time.Second
)

type App struct {
	*bootstrap.Base
	stores         *bootstrap.Stores
	connections    *connection.Manager
	service        management.Service
	healthRegistry *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	router         *gin.Engine
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

// Initialize wires everything a run needs. The HTTP surface is added by InitServer.
func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterExtractionMetrics()
	metrics.RegisterMigrationMetrics()
	metrics.RegisterConnectivityMetrics()
	metrics.RegisterServiceMetrics()

	if err := a.initStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}

	settings, err := a.initConnections()
	if err != nil {
		return fmt.Errorf("failed to initialize connections: %w", err)
	}

	if err := a.initService(settings); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	// the forwarder drains on Shutdown, after the signal context is gone
	if err := a.InitBroker(context.WithoutCancel(ctx), serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initHealth()
	return nil
}

// initStores connects the optional backing stores. A store that cannot be reached
// is logged and replaced by the in-process fallback.
func (a *App) initStores(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	stores, err := bootstrap.OpenStores(initCtx, a.Config.Database, a.Logger)
	a.stores = stores
	return err
}

func (a *App) initConnections() (management.Settings, error) {
	settings := management.SettingsFromConfig(a.Config)
	opts := a.Config.AdapterOptions(a.Logger)
	a.connections = connection.NewManager(opts, a.Logger, connection.WithEmitter(a.Bus))

	profiles, err := a.Config.Profiles()
	if err != nil {
		return settings, err
	}
	if err := a.connections.LoadProfiles(profiles); err != nil {
		return settings, err
	}
	n, err := a.connections.LoadFromEnv(a.Config.ConnectionsEnvPrefix)
	if err != nil {
		return settings, err
	}
	if n > 0 {
		a.Logger.Infow("Connection profiles loaded from environment", "count", n, "prefix", a.Config.ConnectionsEnvPrefix)
	}

	// mock runs without a configured source get a fixture-backed profile
	if opts.Mode == adapter.ModeMock && settings.SourceProfile == "" {
		system := a.Config.Extraction.SourceSystem
		if system == "" {
			system = defaultMockSystem
		}
		parsed, err := adapter.ParseSourceSystem(system)
		if err != nil {
			return settings, err
		}
		if err := a.connections.AddProfile(adapter.Profile{Name: mockProfileName, System: parsed}); err != nil {
			return settings, err
		}
		settings.SourceProfile = mockProfileName
	}
	return settings, nil
}

func (a *App) initService(settings management.Settings) error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	catalog, err := mapping.LoadBuiltinCatalog(evaluator)
	if err != nil {
		return err
	}
	if dir := a.Config.Migration.RuleSetDir; dir != "" {
		if err := catalog.LoadDir(dir); err != nil {
			return fmt.Errorf("failed to load rule sets from %s: %w", dir, err)
		}
		a.Logger.Infow("Rule sets loaded", "dir", dir, "count", len(catalog.IDs()))
	}

	objects, err := migration.DefaultRegistry(a.Logger)
	if err != nil {
		return err
	}

	opts := []management.ServiceOption{
		management.WithEvaluator(evaluator),
		management.WithEmitter(a.Bus),
		management.WithLogger(a.Logger),
	}
	if a.stores.Results != nil {
		opts = append(opts, management.WithResultStore(a.stores.Results))
	}
	if a.stores.Runs != nil {
		opts = append(opts, management.WithRunStore(a.stores.Runs))
	}

	svc, err := management.NewService(a.connections, objects, catalog, settings, opts...)
	if err != nil {
		return err
	}
	a.service = svc
	return nil
}

func (a *App) initHealth() {
	a.healthRegistry = health.NewCheckerRegistry()
	a.healthRegistry.Register(health.NewConnectionsChecker(a.connections))

	var breakers []*circuitbreaker.Breaker
	if a.stores.Results != nil {
		breakers = append(breakers, a.stores.Results.Breaker())
	}
	a.healthRegistry.Register(health.NewBreakerChecker(breakers...))

	if a.stores.Redis != nil {
		a.healthRegistry.Register(health.NewRedisChecker(a.stores.Redis))
	}
	if a.stores.Mongo != nil {
		a.healthRegistry.Register(health.NewMongoDBChecker(a.stores.Mongo))
	}
	if a.stores.LN != nil {
		a.healthRegistry.Register(health.NewPostgreSQLChecker(a.stores.LN))
	}
}

// InitServer builds the router and HTTP server for the serve command.
func (a *App) InitServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if rl := a.Config.Server.RateLimit; rl.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			Read:            ratelimit.Budget{RPS: rl.RPS, Burst: rl.Burst},
			Run:             ratelimit.Budget{RPS: rl.RunRPS, Burst: rl.RunBurst},
			CleanupInterval: time.Duration(rl.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(rl.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled",
			"read_rps", rl.RPS, "read_burst", rl.Burst,
			"run_rps", rl.RunRPS, "run_burst", rl.RunBurst)
	}

	management.NewHandler(a.service, a.Bus, a.Logger).RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		h := a.healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// request contexts hang off streamCtx so open event streams end on shutdown
	streamCtx, stop := context.WithCancel(context.Background())

	a.router = router
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
		BaseContext:  func(net.Listener) context.Context { return streamCtx },
	}
	a.server.RegisterOnShutdown(stop)
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		a.Logger.InfowCtx(ctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(context.Background())
	case err := <-errChan:
		_ = a.Shutdown(context.Background())
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	return a.Base.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}

		if a.service != nil {
			if err := a.service.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("service close error: %w", err))
			}
		}

		if a.connections != nil {
			if err := a.connections.DisconnectAll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("connection shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.stores.Close(ctx)...)
		return errs
	})
}
